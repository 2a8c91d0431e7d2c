package policy

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/edgeway/gateway/internal/config"
	"github.com/edgeway/gateway/internal/identity"
)

func bearerToken(s *identity.Signer, userID, role string, ts int64) string {
	return "Bearer " + userID + "|" + role + "|" + strconv.FormatInt(ts, 10) + "|" + s.Sign(userID, role, ts)
}

func TestAuthMiddlewareIgnoresSpoofedHeaderAndTrustsBearerToken(t *testing.T) {
	signer := identity.NewSigner("top-secret")
	var seen identity.User
	var ok bool

	mw := authMiddleware(config.AuthConfig{Required: true}, signer)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, ok = identity.UserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(identity.HeaderUserID, "spoof")
	req.Header.Set(identity.HeaderUserRole, "admin")
	req.Header.Set("Authorization", bearerToken(signer, "U1", "member", time.Now().Unix()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !ok {
		t.Fatal("expected a request carrying a valid bearer token to authenticate")
	}
	if seen.ID != "U1" || seen.Role != "member" {
		t.Fatalf("authenticated identity = %+v, want {U1 member} from the bearer token, never the spoofed headers", seen)
	}
}

func TestAuthMiddlewareRejectsSpoofedHeaderAloneWhenRequired(t *testing.T) {
	signer := identity.NewSigner("top-secret")
	mw := authMiddleware(config.AuthConfig{Required: true}, signer)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for an unauthenticated required route")
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(identity.HeaderUserID, "spoof")
	req.Header.Set(identity.HeaderUserRole, "admin")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a request with no valid bearer token", rec.Code)
	}
}

func TestAuthMiddlewareAllowsGuestWhenConfigured(t *testing.T) {
	signer := identity.NewSigner("top-secret")
	var called bool
	mw := authMiddleware(config.AuthConfig{Required: true, AllowGuest: true}, signer)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := identity.UserFromContext(r.Context()); ok {
			t.Error("guest request should carry no authenticated identity")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("guest request should pass through, called=%v code=%d", called, rec.Code)
	}
}
