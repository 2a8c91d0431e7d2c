// Package metrics tracks the gateway's routing metrics: request
// counts/durations, cache hit/miss counts, retry counts, circuit
// breaker state, and backend health, exported both as Prometheus
// metrics and as a JSON snapshot for the admin status endpoint.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the gateway's Prometheus metric vectors plus a
// JSON-friendly snapshot mirror for /api/gateway/metrics.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	retryTotal       *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	backendHealth    *prometheus.GaugeVec

	mu            sync.RWMutex
	requestCounts map[string]int64 // route|method|status
	cacheHitN     map[string]int64
	cacheMissN    map[string]int64
	retryN        map[string]int64
	breakerStateN map[string]int
	backendHealthN map[string]int
}

// DefaultBuckets are the request-duration histogram buckets, in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates a Collector registered on a fresh, isolated
// Prometheus registry (so tests don't collide on the global one).
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by route, method, and status",
		}, []string{"route", "method", "status"}),
		requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: DefaultBuckets,
		}, []string{"route"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total cache hits",
		}, []string{"route"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total cache misses",
		}, []string{"route"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retry_total",
			Help: "Total retry attempts",
		}, []string{"route"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=open, 2=half_open",
		}, []string{"service"}),
		backendHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_health",
			Help: "Backend instance health: 0=unhealthy, 1=healthy",
		}, []string{"service", "instance"}),

		requestCounts:  make(map[string]int64),
		cacheHitN:      make(map[string]int64),
		cacheMissN:     make(map[string]int64),
		retryN:         make(map[string]int64),
		breakerStateN:  make(map[string]int),
		backendHealthN: make(map[string]int),
	}

	reg.MustRegister(c.requestsTotal, c.requestDurations, c.cacheHits, c.cacheMisses, c.retryTotal, c.breakerState, c.backendHealth)
	return c
}

// Handler exposes the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed request.
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	status := statusText(statusCode)
	c.requestsTotal.WithLabelValues(route, method, status).Inc()
	c.requestDurations.WithLabelValues(route).Observe(duration.Seconds())

	c.mu.Lock()
	c.requestCounts[route+"|"+method+"|"+status]++
	c.mu.Unlock()
}

func statusText(code int) string {
	const digits = "0123456789"
	if code < 100 || code > 599 {
		return "unknown"
	}
	return string([]byte{digits[code/100], digits[(code/10)%10], digits[code%10]})
}

// RecordCacheHit records a cache hit for route.
func (c *Collector) RecordCacheHit(route string) {
	c.cacheHits.WithLabelValues(route).Inc()
	c.mu.Lock()
	c.cacheHitN[route]++
	c.mu.Unlock()
}

// RecordCacheMiss records a cache miss for route.
func (c *Collector) RecordCacheMiss(route string) {
	c.cacheMisses.WithLabelValues(route).Inc()
	c.mu.Lock()
	c.cacheMissN[route]++
	c.mu.Unlock()
}

// RecordRetry records a retry attempt for route.
func (c *Collector) RecordRetry(route string) {
	c.retryTotal.WithLabelValues(route).Inc()
	c.mu.Lock()
	c.retryN[route]++
	c.mu.Unlock()
}

// SetCircuitBreakerState records service's current breaker state
// (0=closed, 1=open, 2=half-open).
func (c *Collector) SetCircuitBreakerState(service string, state int) {
	c.breakerState.WithLabelValues(service).Set(float64(state))
	c.mu.Lock()
	c.breakerStateN[service] = state
	c.mu.Unlock()
}

// SetBackendHealth records one instance's health.
func (c *Collector) SetBackendHealth(service, instance string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.backendHealth.WithLabelValues(service, instance).Set(v)
	c.mu.Lock()
	if healthy {
		c.backendHealthN[service+"|"+instance] = 1
	} else {
		c.backendHealthN[service+"|"+instance] = 0
	}
	c.mu.Unlock()
}

// Snapshot is a JSON-friendly point-in-time view for the admin endpoint.
type Snapshot struct {
	RequestsTotal       map[string]int64 `json:"requestsTotal"`
	CacheHits           map[string]int64 `json:"cacheHits"`
	CacheMisses         map[string]int64 `json:"cacheMisses"`
	RetryTotal          map[string]int64 `json:"retryTotal"`
	CircuitBreakerState map[string]int   `json:"circuitBreakerState"`
	BackendHealth       map[string]int   `json:"backendHealth"`
}

// Snapshot returns a copy of the collector's current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		RequestsTotal:       make(map[string]int64, len(c.requestCounts)),
		CacheHits:           make(map[string]int64, len(c.cacheHitN)),
		CacheMisses:         make(map[string]int64, len(c.cacheMissN)),
		RetryTotal:          make(map[string]int64, len(c.retryN)),
		CircuitBreakerState: make(map[string]int, len(c.breakerStateN)),
		BackendHealth:       make(map[string]int, len(c.backendHealthN)),
	}
	for k, v := range c.requestCounts {
		snap.RequestsTotal[k] = v
	}
	for k, v := range c.cacheHitN {
		snap.CacheHits[k] = v
	}
	for k, v := range c.cacheMissN {
		snap.CacheMisses[k] = v
	}
	for k, v := range c.retryN {
		snap.RetryTotal[k] = v
	}
	for k, v := range c.breakerStateN {
		snap.CircuitBreakerState[k] = v
	}
	for k, v := range c.backendHealthN {
		snap.BackendHealth[k] = v
	}
	return snap
}
