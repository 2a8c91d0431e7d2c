// Package cors implements the gateway's cross-origin resource sharing
// handling: preflight responses and response-header injection, driven by
// the CORS facet of the static manifest and its environment overrides.
package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/edgeway/gateway/internal/config"
)

// Handler answers CORS preflight requests and decorates normal responses
// with the configured Access-Control-* headers.
type Handler struct {
	enabled          bool
	allowOrigins     []string
	allowCredentials bool
	allowMethods     string
	allowHeaders     string
	maxAge           string
	devWildcards     bool
	allowAllOrigins  bool
}

// New creates a Handler from cfg. Enabled is implied by a non-empty
// Origins list; an empty list disables CORS entirely.
func New(cfg config.CORSConfig) *Handler {
	h := &Handler{
		enabled:          len(cfg.Origins) > 0,
		allowOrigins:     cfg.Origins,
		allowCredentials: cfg.AllowCredentials,
		devWildcards:     cfg.DevWildcards,
	}

	methods := cfg.Methods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	h.allowMethods = strings.Join(methods, ", ")

	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Authorization", "X-Request-Id"}
	}
	h.allowHeaders = strings.Join(headers, ", ")

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 86400
	}
	h.maxAge = strconv.Itoa(maxAge)

	for _, o := range cfg.Origins {
		if o == "*" {
			h.allowAllOrigins = true
		}
	}
	return h
}

// IsEnabled reports whether this handler was configured with any origins.
func (h *Handler) IsEnabled() bool { return h.enabled }

// IsPreflight reports whether r is a CORS preflight request.
func (h *Handler) IsPreflight(r *http.Request) bool {
	return h.enabled && r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" && r.Header.Get("Access-Control-Request-Method") != ""
}

// HandlePreflight writes the preflight response for r.
func (h *Handler) HandlePreflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.isOriginAllowed(origin) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", h.responseOrigin(origin))
	w.Header().Set("Access-Control-Allow-Methods", h.allowMethods)
	w.Header().Set("Access-Control-Allow-Headers", h.allowHeaders)
	w.Header().Set("Access-Control-Max-Age", h.maxAge)
	if h.allowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	w.Header().Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
	w.WriteHeader(http.StatusNoContent)
}

// ApplyHeaders decorates a non-preflight response with CORS headers.
func (h *Handler) ApplyHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.enabled || origin == "" || !h.isOriginAllowed(origin) {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", h.responseOrigin(origin))
	if h.allowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	w.Header().Set("Vary", "Origin")
}

func (h *Handler) responseOrigin(origin string) string {
	if h.allowAllOrigins && !h.allowCredentials {
		return "*"
	}
	return origin
}

func (h *Handler) isOriginAllowed(origin string) bool {
	if h.allowAllOrigins {
		return true
	}
	for _, allowed := range h.allowOrigins {
		if allowed == origin {
			return true
		}
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(origin, allowed[1:]) {
			return true
		}
	}
	// CORS_DEV_WILDCARDS: allow any localhost/127.0.0.1 origin regardless
	// of port, for local frontend development against the gateway.
	if h.devWildcards && (strings.HasPrefix(origin, "http://localhost:") ||
		strings.HasPrefix(origin, "http://127.0.0.1:")) {
		return true
	}
	return false
}

// Middleware wraps next with preflight short-circuiting and response
// header injection.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.IsPreflight(r) {
			h.HandlePreflight(w, r)
			return
		}
		h.ApplyHeaders(w, r)
		next.ServeHTTP(w, r)
	})
}
