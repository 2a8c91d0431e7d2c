// Package policy resolves per-route policy bundles (rate limit, auth,
// logging, cache) by merging service defaults with route overrides, then
// materializes them into an ordered middleware chain: auth projection,
// then rate limit, then cache, then whatever route-specific middleware
// applies, with the forward step always last.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/edgeway/gateway/internal/cache"
	"github.com/edgeway/gateway/internal/config"
	"github.com/edgeway/gateway/internal/gwerrors"
	"github.com/edgeway/gateway/internal/identity"
	"github.com/edgeway/gateway/internal/metrics"
	"github.com/edgeway/gateway/internal/middleware"
	"github.com/edgeway/gateway/internal/ratelimit"
)

// Resolved is the merged, per-route policy bundle a route actually runs
// with, one pointer per facet. A nil facet means "disabled"; "none"
// rate-limit presets are also treated as nil (skip middleware insertion
// entirely).
type Resolved struct {
	RateLimit *config.RateLimitConfig
	Auth      *config.AuthConfig
	Logging   *config.LogPolicyConfig
	Cache     *config.CacheConfig
}

// Resolve merges service-level defaults with a route's overrides: an
// explicit Disabled=true override turns a facet off, a nil override
// inherits the service default unchanged, and a non-nil override without
// Disabled is shallow-merged over the default.
func Resolve(defaults config.ServiceDefaults, route config.RouteConfig) Resolved {
	return Resolved{
		RateLimit: resolveRateLimit(defaults.RateLimit, route.RateLimit),
		Auth:      resolveAuth(defaults.Auth, route.Auth),
		Logging:   resolveLogging(defaults.Logging, route.Logging),
		Cache:     resolveCache(defaults.Cache, route.Cache),
	}
}

func resolveRateLimit(def config.RateLimitConfig, override *config.RateLimitConfig) *config.RateLimitConfig {
	if override == nil {
		if def.Preset == "none" {
			return nil
		}
		cp := def
		return &cp
	}
	if override.Disabled || override.Preset == "none" {
		return nil
	}
	merged := def
	if override.Preset != "" {
		merged.Preset = override.Preset
	}
	if override.WindowMs != 0 {
		merged.WindowMs = override.WindowMs
	}
	if override.MaxRequests != 0 {
		merged.MaxRequests = override.MaxRequests
	}
	if override.KeyType != "" {
		merged.KeyType = override.KeyType
	}
	if override.Segment != "" {
		merged.Segment = override.Segment
	}
	return &merged
}

func resolveAuth(def config.AuthConfig, override *config.AuthConfig) *config.AuthConfig {
	if override == nil {
		cp := def
		return &cp
	}
	if override.Disabled {
		return nil
	}
	merged := def
	merged.Required = override.Required
	merged.InjectUserID = override.InjectUserID
	merged.AllowGuest = override.AllowGuest
	if len(override.Scopes) > 0 {
		merged.Scopes = override.Scopes
	}
	return &merged
}

func resolveLogging(def config.LogPolicyConfig, override *config.LogPolicyConfig) *config.LogPolicyConfig {
	if override == nil {
		cp := def
		return &cp
	}
	if override.Disabled {
		return nil
	}
	merged := def
	if override.Level != "" {
		merged.Level = override.Level
	}
	merged.IncludeRequestBody = override.IncludeRequestBody
	merged.IncludeResponseBody = override.IncludeResponseBody
	if len(override.Tags) > 0 {
		merged.Tags = override.Tags
	}
	if override.CorrelationHeader != "" {
		merged.CorrelationHeader = override.CorrelationHeader
	}
	return &merged
}

func resolveCache(def config.CacheConfig, override *config.CacheConfig) *config.CacheConfig {
	if override == nil {
		if !def.Enabled {
			return nil
		}
		cp := def
		return &cp
	}
	if override.Disabled || !override.Enabled {
		return nil
	}
	merged := def
	merged.Enabled = true
	if override.TTL != 0 {
		merged.TTL = override.TTL
	}
	if override.StaleWindow != 0 {
		merged.StaleWindow = override.StaleWindow
	}
	if len(override.VaryHeaders) > 0 {
		merged.VaryHeaders = override.VaryHeaders
	}
	return &merged
}

// Collaborators bundles the shared stores the materialized middleware
// chain dispatches into; one instance is shared across every route.
type Collaborators struct {
	Limiter ratelimit.Limiter
	Cache   cache.Store
	Signer  *identity.Signer
	Metrics *metrics.Collector
}

// Materialize builds the ordered middleware chain for routeID's resolved
// policy: auth projection, then rate limit, then cache, then forward. A
// rate-limit facet with no window or no request ceiling adds no limiter.
func Materialize(resolved Resolved, routeID string, collab Collaborators) []middleware.Middleware {
	var chain []middleware.Middleware
	if resolved.Auth != nil && (resolved.Auth.Required || resolved.Auth.InjectUserID) {
		chain = append(chain, authMiddleware(*resolved.Auth, collab.Signer))
	}
	if rl := resolved.RateLimit; rl != nil && rl.WindowMs > 0 && rl.MaxRequests > 0 {
		chain = append(chain, rateLimitMiddleware(*resolved.RateLimit, routeID, collab.Limiter))
	}
	if resolved.Cache != nil {
		chain = append(chain, cacheMiddleware(*resolved.Cache, routeID, collab.Cache, collab.Metrics))
	}
	return chain
}

// authMiddleware attaches the authenticated identity to the request
// context, sourced from the Authorization header's bearer token and
// verified through signer — a channel entirely separate from the
// client-facing X-User-Id/X-User-Role headers, which are always
// attacker-controlled and carry no trust of their own (they are
// overwritten by identity.Project/stripped by identity.StripClientHeaders
// before a request ever reaches a backend). Rejects guest-disallowed
// requests with 401 before any rate-limit key is computed.
func authMiddleware(cfg config.AuthConfig, signer *identity.Signer) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, authenticated := signer.Authenticate(r.Header.Get("Authorization"))

			if !authenticated && cfg.Required && !cfg.AllowGuest {
				gwerrors.ErrAuthentication.
					WithRequestID(middleware.GetRequestID(r)).
					WriteJSON(w)
				return
			}

			if authenticated {
				r = r.WithContext(identity.WithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware keys by (keyType, segment?, userId|ip|"global") and
// rejects with 429 + Retry-After on exhaustion.
func rateLimitMiddleware(cfg config.RateLimitConfig, routeID string, limiter ratelimit.Limiter) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(cfg, routeID, r)
			decision := limiter.Allow(r.Context(), key, cfg.WindowMs, cfg.MaxRequests)
			if !decision.Allowed {
				gwerrors.ErrRateLimited.
					WithRetryAfter(secondsUntil(decision)).
					WithRequestID(middleware.GetRequestID(r)).
					WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// secondsUntil rounds the time remaining until the window resets up to
// the next whole second, never less than 1 for an exhausted window.
func secondsUntil(d ratelimit.Decision) int {
	remaining := time.Until(d.ResetAt)
	if remaining <= 0 {
		return 1
	}
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}

func rateLimitKey(cfg config.RateLimitConfig, routeID string, r *http.Request) string {
	var subject string
	switch cfg.KeyType {
	case "per-user":
		if user, ok := identity.UserFromContext(r.Context()); ok {
			subject = user.ID
		} else {
			subject = clientIP(r)
		}
	case "per-ip":
		subject = clientIP(r)
	default:
		subject = "global"
	}
	parts := []string{routeID, cfg.KeyType, subject}
	if cfg.Segment != "" {
		parts = append(parts, cfg.Segment)
	}
	return strings.Join(parts, "|")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

// cacheMiddleware is a GET-only lookaside cache: fresh hits are served
// immediately, stale hits are served while the regular request proceeds
// in the background, and 2xx misses are stored.
func cacheMiddleware(cfg config.CacheConfig, routeID string, store cache.Store, mc *metrics.Collector) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			key := cacheKey(routeID, r, cfg.VaryHeaders)
			now := time.Now()

			if entry, ok := store.Get(key); ok {
				if entry.Fresh(now) {
					mc.RecordCacheHit(routeID)
					writeCached(w, entry, "HIT")
					return
				}
				if entry.Stale(now) {
					mc.RecordCacheHit(routeID)
					writeCached(w, entry, "STALE")
					go revalidate(next, r, key, cfg, store)
					return
				}
			}
			mc.RecordCacheMiss(routeID)

			cw := &capturingWriter{ResponseWriter: w, header: make(http.Header)}
			next.ServeHTTP(cw, r)
			if cw.status >= 200 && cw.status < 300 {
				store.Set(key, &cache.Entry{
					StatusCode:  cw.status,
					Headers:     cw.header.Clone(),
					Body:        cw.body,
					StoredAt:    now,
					TTL:         cfg.TTL,
					StaleWindow: cfg.StaleWindow,
				})
			}
		})
	}
}

func revalidate(next http.Handler, r *http.Request, key string, cfg config.CacheConfig, store cache.Store) {
	cw := &capturingWriter{ResponseWriter: discardWriter{}, header: make(http.Header), status: http.StatusOK}
	next.ServeHTTP(cw, r.Clone(r.Context()))
	if cw.status >= 200 && cw.status < 300 {
		store.Set(key, &cache.Entry{
			StatusCode:  cw.status,
			Headers:     cw.header.Clone(),
			Body:        cw.body,
			StoredAt:    time.Now(),
			TTL:         cfg.TTL,
			StaleWindow: cfg.StaleWindow,
		})
	}
}

func writeCached(w http.ResponseWriter, entry *cache.Entry, xCache string) {
	for k, vv := range entry.Headers {
		w.Header()[k] = vv
	}
	w.Header().Set("X-Cache", xCache)
	w.WriteHeader(entry.StatusCode)
	w.Write(entry.Body)
}

// cacheKey fingerprints method, path, query, and the configured
// vary-headers, sorted so header order never changes the key.
func cacheKey(routeID string, r *http.Request, varyHeaders []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", routeID, r.Method, r.URL.Path, r.URL.RawQuery)
	sorted := append([]string(nil), varyHeaders...)
	sort.Strings(sorted)
	for _, name := range sorted {
		fmt.Fprintf(h, "|%s=%s", name, r.Header.Get(name))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// capturingWriter buffers a handler's response so the cache middleware
// can inspect and store it after the fact.
type capturingWriter struct {
	http.ResponseWriter
	header http.Header
	status int
	body   []byte
}

func (cw *capturingWriter) Header() http.Header { return cw.header }

func (cw *capturingWriter) WriteHeader(status int) {
	cw.status = status
	for k, vv := range cw.header {
		cw.ResponseWriter.Header()[k] = vv
	}
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *capturingWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.WriteHeader(http.StatusOK)
	}
	cw.body = append(cw.body, b...)
	return cw.ResponseWriter.Write(b)
}

// discardWriter backs a background revalidation request, which has no
// real client waiting on it.
type discardWriter struct{}

func (discardWriter) Header() http.Header        { return make(http.Header) }
func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }
func (discardWriter) WriteHeader(int)             {}
