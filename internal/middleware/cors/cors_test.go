package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeway/gateway/internal/config"
)

func TestCORSPreflight(t *testing.T) {
	h := New(config.CORSConfig{
		Origins: []string{"https://example.com"},
		Methods: []string{"GET", "POST"},
	})

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://example.com")
	r.Header.Set("Access-Control-Request-Method", "POST")

	if !h.IsPreflight(r) {
		t.Fatal("should be preflight")
	}

	w := httptest.NewRecorder()
	h.HandlePreflight(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("expected origin https://example.com, got %s", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
		t.Errorf("expected methods GET, POST, got %s", got)
	}
}

func TestCORSPreflightDisallowedOrigin(t *testing.T) {
	h := New(config.CORSConfig{Origins: []string{"https://example.com"}})

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://evil.com")
	r.Header.Set("Access-Control-Request-Method", "POST")

	w := httptest.NewRecorder()
	h.HandlePreflight(w, r)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("should not set allow origin for disallowed origin")
	}
}

func TestCORSWildcardOrigin(t *testing.T) {
	h := New(config.CORSConfig{Origins: []string{"*"}})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://any-origin.com")

	w := httptest.NewRecorder()
	h.ApplyHeaders(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected *, got %s", got)
	}
}

func TestCORSCredentialsWithExplicitOrigin(t *testing.T) {
	h := New(config.CORSConfig{
		Origins:          []string{"https://example.com"},
		AllowCredentials: true,
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://example.com")

	w := httptest.NewRecorder()
	h.ApplyHeaders(w, r)

	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("expected credentials true, got %s", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("with credentials, should echo exact origin, got %s", got)
	}
}

func TestCORSWildcardSubdomain(t *testing.T) {
	h := New(config.CORSConfig{Origins: []string{"*.example.com"}})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")

	w := httptest.NewRecorder()
	h.ApplyHeaders(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected echoed origin, got %s", got)
	}
}

func TestCORSDevWildcards(t *testing.T) {
	h := New(config.CORSConfig{Origins: []string{"https://example.com"}, DevWildcards: true})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "http://localhost:5173")

	w := httptest.NewRecorder()
	h.ApplyHeaders(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected localhost origin allowed under dev wildcards, got %q", got)
	}
}

func TestCORSDisabledWithNoOrigins(t *testing.T) {
	h := New(config.CORSConfig{})
	if h.IsEnabled() {
		t.Fatal("expected handler with no configured origins to be disabled")
	}
}
