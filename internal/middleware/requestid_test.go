package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDGenerated(t *testing.T) {
	var sawID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawID = GetRequestID(r)
		if sawID == "" {
			t.Error("request id should be set in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	final := RequestID()(handler)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()
	final.ServeHTTP(rr, req)

	if got := rr.Header().Get(HeaderRequestID); got == "" {
		t.Error("X-Request-Id header should be set in response")
	} else if got != sawID {
		t.Errorf("response header %q != context id %q", got, sawID)
	}
}

func TestRequestIDPropagatesIncoming(t *testing.T) {
	existingID := "existing-request-id"

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r) != existingID {
			t.Errorf("expected propagated id %s, got %s", existingID, GetRequestID(r))
		}
		w.WriteHeader(http.StatusOK)
	})

	final := RequestID()(handler)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderRequestID, existingID)
	rr := httptest.NewRecorder()
	final.ServeHTTP(rr, req)

	if got := rr.Header().Get(HeaderRequestID); got != existingID {
		t.Errorf("expected response header %s, got %s", existingID, got)
	}
}

func TestRequestIDFromContextEmpty(t *testing.T) {
	if id := RequestIDFromContext(t.Context()); id != "" {
		t.Errorf("expected empty string, got %q", id)
	}
}

func TestTwoRequestsGetDistinctIDs(t *testing.T) {
	var first, second string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if first == "" {
			first = GetRequestID(r)
		} else {
			second = GetRequestID(r)
		}
		w.WriteHeader(http.StatusOK)
	})

	final := RequestID()(handler)
	final.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a", nil))
	final.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/b", nil))

	if first == "" || second == "" || first == second {
		t.Errorf("expected two distinct generated ids, got %q and %q", first, second)
	}
}
