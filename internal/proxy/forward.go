// Package proxy implements the gateway's forward/proxy engine: the
// per-request pipeline that resolves a route, picks a healthy backend
// instance, projects the caller's identity onto signed internal-auth
// headers, dispatches the outbound call, and translates the response.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgeway/gateway/internal/breaker"
	"github.com/edgeway/gateway/internal/config"
	"github.com/edgeway/gateway/internal/gwerrors"
	"github.com/edgeway/gateway/internal/identity"
	"github.com/edgeway/gateway/internal/loadbalancer"
	"github.com/edgeway/gateway/internal/logging"
	"github.com/edgeway/gateway/internal/metrics"
	"github.com/edgeway/gateway/internal/middleware"
	"github.com/edgeway/gateway/internal/registry"
	"github.com/edgeway/gateway/internal/router"
)

const gatewayServiceName = "api-gateway"

// hopHeaders are stripped from both the outbound request and the
// returned response; they describe a single transport hop and must
// never be relayed across one.
var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// Engine is the forward/proxy engine: one public operation (ServeHTTP)
// that resolves a route, selects an instance, signs identity, dispatches,
// and relays the response.
type Engine struct {
	Router        *router.Router
	Registry      *registry.Registry
	Breaker       *breaker.Manager
	Balancer      *loadbalancer.Manager
	Signer        *identity.Signer
	Transports    *TransportPool
	Metrics       *metrics.Collector
	PortRegistry  map[string]int
	RequestBudget time.Duration
}

// NewEngine wires the forward engine's collaborators.
func NewEngine(rt *router.Router, reg *registry.Registry, br *breaker.Manager, signer *identity.Signer, metricsCollector *metrics.Collector, portRegistry map[string]int, requestBudget time.Duration) *Engine {
	if requestBudget <= 0 {
		requestBudget = 30 * time.Second
	}
	return &Engine{
		Router:        rt,
		Registry:      reg,
		Breaker:       br,
		Balancer:      loadbalancer.NewManager(),
		Signer:        signer,
		Transports:    NewTransportPool(),
		Metrics:       metricsCollector,
		PortRegistry:  portRegistry,
		RequestBudget: requestBudget,
	}
}

// ServeHTTP resolves the route, then executes the full forward
// procedure. A path with no matching route is this gateway's only 404 —
// routing is otherwise entirely this engine's concern.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	match := e.Router.Match(r)
	if match == nil {
		gwerrors.ErrNotFound.WithRequestID(middleware.GetRequestID(r)).WriteJSON(w)
		return
	}
	e.ServeMatched(w, r, match)
}

// ServeMatched runs the forward procedure for a route already resolved
// by the caller (the gateway package matches once to pick the per-route
// middleware chain, then hands the same match here instead of making the
// engine match the path a second time).
func (e *Engine) ServeMatched(w http.ResponseWriter, r *http.Request, match *router.Match) {
	reqID := middleware.GetRequestID(r)
	start := time.Now()
	route := match.Route

	targetPath := buildTargetPath(route, r.URL.Path, match.PathParams)

	instances := e.Registry.Discover(route.ServiceName)
	if len(instances) == 0 {
		instances = e.staticFallback(route.ServiceName)
	}
	if len(instances) == 0 {
		e.Metrics.RecordRequest(route.ID, r.Method, http.StatusServiceUnavailable, time.Since(start))
		gwerrors.ErrServiceUnavailable.WithRequestID(reqID).WriteJSON(w)
		return
	}
	instance := e.Balancer.Next(route.ServiceName, instances)

	budget := route.Timeout
	if budget <= 0 {
		budget = e.RequestBudget
	}
	deadline := start.Add(budget)
	ctx, cancel := context.WithDeadline(r.Context(), deadline)
	defer cancel()

	outbound, err := e.buildOutboundRequest(ctx, r, route, instance, targetPath, reqID, deadline)
	if err != nil {
		e.Metrics.RecordRequest(route.ID, r.Method, http.StatusInternalServerError, time.Since(start))
		gwerrors.ErrInternal.Wrap(err).WithRequestID(reqID).WriteJSON(w)
		return
	}

	if e.Breaker.State(route.ServiceName) == breaker.StateOpen {
		e.Metrics.RecordRequest(route.ID, r.Method, http.StatusServiceUnavailable, time.Since(start))
		e.Metrics.SetCircuitBreakerState(route.ServiceName, int(breaker.StateOpen))
		gwerrors.ErrCircuitOpen.WithRequestID(reqID).WriteJSON(w)
		return
	}

	result, execErr := e.Breaker.Execute(route.ServiceName, func() (*breaker.Result, error) {
		return e.dispatch(outbound, route.ServiceName)
	})
	e.Metrics.SetCircuitBreakerState(route.ServiceName, int(e.Breaker.State(route.ServiceName)))

	duration := time.Since(start)

	switch {
	case errors.Is(execErr, breaker.ErrOpen):
		e.Metrics.RecordRequest(route.ID, r.Method, http.StatusServiceUnavailable, duration)
		gwerrors.ErrCircuitOpen.WithRequestID(reqID).WriteJSON(w)
		return
	case result == nil && execErr != nil:
		status := e.translateNetworkError(w, execErr, reqID)
		e.Metrics.RecordRequest(route.ID, r.Method, status, duration)
		return
	}

	// result is non-nil here (the breaker hands back a real response body
	// even for 5xx backend replies, see breaker.Execute's doc comment).
	e.writeResponse(w, result, route, instance, reqID, duration)
	e.Metrics.RecordRequest(route.ID, r.Method, result.StatusCode, duration)
}

// buildTargetPath strips the API-version segment, then applies
// rewritePath or stripPrefix.
func buildTargetPath(route *router.Route, path string, pathParams map[string]string) string {
	unversioned := stripAPIVersion(path)

	switch {
	case route.RewritePath != "":
		segments := strings.Split(strings.Trim(unversioned, "/"), "/")
		prefixLen := countPrefixSegments(route.Pattern)
		if prefixLen > len(segments) {
			prefixLen = len(segments)
		}
		remainder := strings.Join(segments[prefixLen:], "/")
		if remainder == "" {
			return route.RewritePath
		}
		return strings.TrimRight(route.RewritePath, "/") + "/" + remainder
	case route.StripPrefix:
		return stripLiteralPrefix(route.Pattern, unversioned)
	default:
		return unversioned
	}
}

// stripAPIVersion converts /api/v1/... to /api/..., leaving any other
// path untouched.
func stripAPIVersion(path string) string {
	const prefix = "/api/v"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := path[len(prefix):]
	slash := strings.IndexByte(rest, '/')
	if slash == -1 {
		return "/api"
	}
	// rest[:slash] is the version digits (e.g. "1"); skip past them.
	return "/api" + rest[slash:]
}

// countPrefixSegments counts the pattern's literal segments up to (and
// accounting for) its trailing "*" hole.
func countPrefixSegments(pattern string) int {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	n := len(segments)
	if n > 0 && segments[n-1] == "*" {
		n--
	}
	return n
}

// stripLiteralPrefix removes pattern's literal prefix (everything before
// its first "*") from path.
func stripLiteralPrefix(pattern, path string) string {
	star := strings.IndexByte(pattern, '*')
	prefix := pattern
	if star >= 0 {
		prefix = pattern[:star]
	}
	prefix = strings.TrimRight(prefix, "/")
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == "" {
		return "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "/" + trimmed
	}
	return trimmed
}

// staticFallback synthesizes a single instance from the port registry
// when discovery has nothing for serviceName.
func (e *Engine) staticFallback(serviceName string) []*registry.Instance {
	port, ok := e.PortRegistry[serviceName]
	if !ok {
		return nil
	}
	return []*registry.Instance{{
		ID:          serviceName + "-fallback",
		ServiceName: serviceName,
		Host:        "localhost",
		Port:        port,
		Protocol:    "http",
		Healthy:     true,
	}}
}

func (e *Engine) buildOutboundRequest(ctx context.Context, r *http.Request, route *router.Route, instance *registry.Instance, targetPath, reqID string, deadline time.Time) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		buf, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	targetURL := instance.URL() + targetPath
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, targetURL, body)
	if err != nil {
		return nil, err
	}

	req.Header = r.Header.Clone()
	identity.StripClientHeaders(req.Header)
	removeHopHeaders(req.Header)

	if user, ok := identity.UserFromContext(r.Context()); ok {
		e.Signer.Project(req.Header, user.ID, user.Role, gatewayServiceName)
	}

	req.Header.Set("X-Request-Id", reqID)
	req.Header.Set(identity.HeaderGatewayService, gatewayServiceName)
	req.Header.Set("X-Original-Path", r.URL.Path)
	req.Header.Set("X-Api-Version", apiVersion(r.URL.Path))
	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	req.Header.Set("X-Timeout-Remaining", strconv.FormatInt(remaining.Milliseconds(), 10))

	for k, v := range route.StaticHeaders {
		req.Header.Set(k, v)
	}

	return req, nil
}

func apiVersion(path string) string {
	const prefix = "/api/v"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		return "v" + rest[:slash]
	}
	return "v" + rest
}

// dispatch issues the outbound HTTP call and buffers the response body
// so the circuit breaker can inspect the status code before the caller
// decides what to relay.
func (e *Engine) dispatch(req *http.Request, serviceName string) (*breaker.Result, error) {
	transport := e.Transports.Get(serviceName)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}
	removeHopHeaders(resp.Header)
	return &breaker.Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// translateNetworkError turns a dispatch failure into a response: a
// context deadline becomes 504, anything else 502.
func (e *Engine) translateNetworkError(w http.ResponseWriter, err error, reqID string) int {
	if errors.Is(err, context.DeadlineExceeded) {
		gwe := gwerrors.ErrTimeout.WithRequestID(reqID)
		gwe.WriteJSON(w)
		return gwe.Status()
	}
	gwe := gwerrors.ErrBadGateway.Wrap(err).WithRequestID(reqID)
	gwe.WriteJSON(w)
	return gwe.Status()
}

// writeResponse relays the backend's status and body unchanged (2xx/3xx
// and 4xx/5xx alike), decorated with the gateway's own response headers.
func (e *Engine) writeResponse(w http.ResponseWriter, result *breaker.Result, route *router.Route, instance *registry.Instance, reqID string, duration time.Duration) {
	for k, vv := range result.Header {
		w.Header()[k] = vv
	}
	w.Header().Set("X-Gateway-Service", gatewayServiceName)
	w.Header().Set("X-Target-Service", route.ServiceName)
	w.Header().Set("X-Request-Id", reqID)
	w.Header().Set("X-Response-Time", strconv.FormatInt(duration.Milliseconds(), 10)+"ms")
	w.Header().Set("X-Served-By", instance.ID)

	logging.AtLevel(zap.InfoLevel, "forwarded request",
		zap.String("requestId", reqID),
		zap.String("route", route.ID),
		zap.String("service", route.ServiceName),
		zap.Int("status", result.StatusCode),
		zap.Duration("duration", duration),
	)

	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}

// RouteConfigFromStatic converts a static config.RouteConfig into the
// router's input shape, keeping internal/router free of a dependency on
// internal/config.
func RouteConfigFromStatic(c config.RouteConfig) router.RouteConfig {
	return router.RouteConfig{
		ID:            c.ID,
		Path:          c.Path,
		ServiceName:   c.ServiceName,
		ServiceTags:   c.ServiceTags,
		RewritePath:   c.RewritePath,
		StripPrefix:   c.StripPrefix,
		Timeout:       c.Timeout,
		Retries:       c.Retries,
		AuthRequired:  c.AuthRequired,
		StaticHeaders: c.StaticHeaders,
	}
}
