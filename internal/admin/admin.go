// Package admin serves the gateway's introspection and control surface
// under /api/gateway/*: read-only route/registry/metrics/breaker/cache
// status, admin route CRUD, a discovery-mode override, and (non-production
// only) a handful of deeper debug endpoints.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/edgeway/gateway/internal/breaker"
	"github.com/edgeway/gateway/internal/cache"
	"github.com/edgeway/gateway/internal/discovery"
	"github.com/edgeway/gateway/internal/metrics"
	"github.com/edgeway/gateway/internal/registry"
	"github.com/edgeway/gateway/internal/router"
)

// Handler serves the admin surface. It holds references to every
// component an introspection or control endpoint needs; internal/gateway
// wires one up once and mounts it at /api/gateway.
type Handler struct {
	Router     *router.Router
	Registry   *registry.Registry
	Discoverer *discovery.Discoverer
	Breaker    *breaker.Manager
	Cache      cache.Store
	Metrics    *metrics.Collector
	NodeEnv    string
	Debug      bool

	// OnRouteChange, when set, is called after a route is added or
	// removed through this handler so the caller can re-resolve and
	// re-materialize that route's policy chain.
	OnRouteChange func()
}

func (h *Handler) notifyRouteChange() {
	if h.OnRouteChange != nil {
		h.OnRouteChange()
	}
}

// Mux builds the admin http.ServeMux, ready to be mounted under a prefix.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/routes", h.handleRoutes)
	mux.HandleFunc("/registry", h.handleRegistry)
	mux.HandleFunc("/backends", h.handleBackends)
	mux.HandleFunc("/circuit-breakers", h.handleCircuitBreakers)
	mux.HandleFunc("/cache", h.handleCache)
	mux.HandleFunc("/metrics", h.handleMetrics)
	mux.HandleFunc("/discovery", h.handleDiscovery)

	if h.Debug && h.NodeEnv != "production" {
		mux.HandleFunc("/debug/discovery", h.handleDebugDiscovery)
		mux.HandleFunc("/debug/circuit-breakers", h.handleDebugCircuitBreakers)
		mux.Handle("/debug/metrics", h.Metrics.Handler())
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// routeInfo is the admin-facing view of a router.Route.
type routeInfo struct {
	ID            string            `json:"id"`
	Pattern       string            `json:"pattern"`
	ServiceName   string            `json:"serviceName"`
	ServiceTags   []string          `json:"serviceTags,omitempty"`
	RewritePath   string            `json:"rewritePath,omitempty"`
	StripPrefix   bool              `json:"stripPrefix"`
	Timeout       string            `json:"timeout,omitempty"`
	Retries       int               `json:"retries"`
	AuthRequired  bool              `json:"authRequired"`
	StaticHeaders map[string]string `json:"staticHeaders,omitempty"`
}

func toRouteInfo(rt *router.Route) routeInfo {
	info := routeInfo{
		ID:            rt.ID,
		Pattern:       rt.Pattern,
		ServiceName:   rt.ServiceName,
		ServiceTags:   rt.ServiceTags,
		RewritePath:   rt.RewritePath,
		StripPrefix:   rt.StripPrefix,
		Retries:       rt.Retries,
		AuthRequired:  rt.AuthRequired,
		StaticHeaders: rt.StaticHeaders,
	}
	if rt.Timeout > 0 {
		info.Timeout = rt.Timeout.String()
	}
	return info
}

// handleRoutes lists every registered route (GET), registers a new one
// (POST), or removes one by id (DELETE ?id=...). Routes may be added or
// removed at runtime through these endpoints.
func (h *Handler) handleRoutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		routes := h.Router.Routes()
		out := make([]routeInfo, 0, len(routes))
		for _, rt := range routes {
			out = append(out, toRouteInfo(rt))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"routes":  out,
			"metrics": h.Router.Metrics(),
		})

	case http.MethodPost:
		var body struct {
			ID            string            `json:"id"`
			Path          string            `json:"path"`
			ServiceName   string            `json:"serviceName"`
			ServiceTags   []string          `json:"serviceTags,omitempty"`
			RewritePath   string            `json:"rewritePath,omitempty"`
			StripPrefix   bool              `json:"stripPrefix,omitempty"`
			TimeoutMs     int64             `json:"timeoutMs,omitempty"`
			Retries       int               `json:"retries,omitempty"`
			AuthRequired  bool              `json:"authRequired,omitempty"`
			StaticHeaders map[string]string `json:"staticHeaders,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.ID == "" || body.Path == "" || body.ServiceName == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id, path, and serviceName are required"})
			return
		}
		h.Router.AddRoute(router.RouteConfig{
			ID:            body.ID,
			Path:          body.Path,
			ServiceName:   body.ServiceName,
			ServiceTags:   body.ServiceTags,
			RewritePath:   body.RewritePath,
			StripPrefix:   body.StripPrefix,
			Timeout:       time.Duration(body.TimeoutMs) * time.Millisecond,
			Retries:       body.Retries,
			AuthRequired:  body.AuthRequired,
			StaticHeaders: body.StaticHeaders,
		})
		h.notifyRouteChange()
		writeJSON(w, http.StatusCreated, map[string]string{"id": body.ID})

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
			return
		}
		if !h.Router.RemoveRoute(id) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "route not found"})
			return
		}
		h.notifyRouteChange()
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRegistry(w http.ResponseWriter, r *http.Request) {
	all := h.Registry.AllServices()
	out := make(map[string]interface{}, len(all))
	for name, instances := range all {
		out[name] = map[string]interface{}{
			"instances": instances,
			"stats":     h.Registry.Stats(name),
		}
	}
	mode := ""
	if h.Discoverer != nil {
		mode = h.Discoverer.Mode().String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":     mode,
		"services": out,
	})
}

func (h *Handler) handleBackends(w http.ResponseWriter, r *http.Request) {
	all := h.Registry.AllServices()
	type backendStatus struct {
		ServiceName string `json:"serviceName"`
		InstanceID  string `json:"instanceId"`
		URL         string `json:"url"`
		Healthy     bool   `json:"healthy"`
		Discovered  bool   `json:"discovered"`
	}
	out := make([]backendStatus, 0)
	for name, instances := range all {
		for _, inst := range instances {
			out = append(out, backendStatus{
				ServiceName: name,
				InstanceID:  inst.ID,
				URL:         inst.URL(),
				Healthy:     inst.Healthy,
				Discovered:  inst.Discovered,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Breaker.Snapshot())
}

func (h *Handler) handleCache(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		writeJSON(w, http.StatusOK, cache.StoreStats{})
		return
	}
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Metrics.Snapshot())
}

// handleDiscovery reports (GET) or overrides (POST {"mode":"dynamic|
// static|auto"}) the discovery mode, giving an operator manual control
// over which reconciliation path the discoverer takes.
func (h *Handler) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if h.Discoverer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "discovery not configured"})
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"mode": h.Discoverer.Mode().String()})

	case http.MethodPost:
		var body struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		switch body.Mode {
		case "dynamic", "static":
			h.Discoverer.ForceMode(body.Mode)
		case "auto", "":
			h.Discoverer.ForceMode("")
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be dynamic, static, or auto"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"mode": body.Mode})

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleDebugDiscovery surfaces the raw registry snapshot alongside the
// discovery mode. Reserved for non-production operator diagnostics.
func (h *Handler) handleDebugDiscovery(w http.ResponseWriter, r *http.Request) {
	mode := ""
	if h.Discoverer != nil {
		mode = h.Discoverer.Mode().String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mode":     mode,
		"services": h.Registry.AllServices(),
	})
}

func (h *Handler) handleDebugCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Breaker.Snapshot())
}
