// Package breaker wraps each backend service with its own circuit
// breaker, built on gobreaker: closed while failures stay under
// threshold, open once both a volume and a failure threshold are
// crossed within the monitoring window, half-open after the reset
// timeout to probe recovery.
package breaker

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/edgeway/gateway/internal/config"
)

// State mirrors gobreaker's three-state machine under gateway-native names.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Snapshot is a point-in-time view of one service's breaker, surfaced by
// the admin status endpoint.
type Snapshot struct {
	ServiceName string `json:"serviceName"`
	State       string `json:"state"`
	Requests    uint32 `json:"requests"`
	Failures    uint32 `json:"failures"`
	Successes   uint32 `json:"successes"`
}

// ErrOpen is returned by Execute when the breaker is open and rejects
// the call outright.
var ErrOpen = gobreaker.ErrOpenState

// Manager owns one circuit breaker per service, created lazily from each
// service's configured (or default) thresholds.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker[*Result]
	defaults config.CircuitBreakerConfig
	configs  map[string]config.CircuitBreakerConfig
}

// Result is the opaque payload an Execute call produces; the forward
// engine passes its proxied HTTP outcome through untouched.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewManager creates a Manager. defaults applies to any service without
// an explicit entry in perService.
func NewManager(defaults config.CircuitBreakerConfig, perService map[string]config.CircuitBreakerConfig) *Manager {
	if defaults.FailureThreshold == 0 {
		defaults.FailureThreshold = 5
	}
	if defaults.SuccessThreshold == 0 {
		defaults.SuccessThreshold = 2
	}
	if defaults.ResetTimeout == 0 {
		defaults.ResetTimeout = 30 * time.Second
	}
	if defaults.VolumeThreshold == 0 {
		defaults.VolumeThreshold = 10
	}
	return &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Result]),
		defaults: defaults,
		configs:  perService,
	}
}

func (m *Manager) configFor(service string) config.CircuitBreakerConfig {
	if c, ok := m.configs[service]; ok {
		return mergeWithDefaults(c, m.defaults)
	}
	return m.defaults
}

func mergeWithDefaults(c, d config.CircuitBreakerConfig) config.CircuitBreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.MonitoringWindow == 0 {
		c.MonitoringWindow = d.MonitoringWindow
	}
	if c.VolumeThreshold == 0 {
		c.VolumeThreshold = d.VolumeThreshold
	}
	return c
}

func (m *Manager) breakerFor(service string) *gobreaker.CircuitBreaker[*Result] {
	m.mu.RLock()
	cb, ok := m.breakers[service]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok = m.breakers[service]; ok {
		return cb
	}

	cfg := m.configFor(service)
	volume := uint32(cfg.VolumeThreshold)
	failures := uint32(cfg.FailureThreshold)
	cb = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        service,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Interval:    cfg.MonitoringWindow,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// A rolling total within the monitoring window, not a
			// consecutive streak: a backend that fails intermittently
			// (fail, succeed, fail, ...) must still trip once enough of
			// its requests in the window have failed.
			return counts.Requests >= volume && counts.TotalFailures >= failures
		},
	})
	m.breakers[service] = cb
	return cb
}

// Execute runs fn through service's breaker. When the breaker is open,
// fn is never called and (nil, ErrOpen) is returned.
//
// A backend response with status >= 500 counts as a breaker failure but
// is still handed back to the caller (alongside a non-nil error) so the
// forward engine can pass the real 5xx body through to the client while
// the breaker's own bookkeeping still sees it as a failure.
func (m *Manager) Execute(service string, fn func() (*Result, error)) (*Result, error) {
	var captured *Result
	wrapped := func() (*Result, error) {
		res, err := fn()
		if err != nil {
			return nil, err
		}
		captured = res
		if res.StatusCode >= 500 {
			return nil, fmt.Errorf("breaker: backend returned status %d", res.StatusCode)
		}
		return res, nil
	}

	res, err := m.breakerFor(service).Execute(wrapped)
	if err != nil {
		if captured != nil {
			return captured, err
		}
		return nil, err
	}
	return res, nil
}

// State reports a service's current breaker state, StateClosed if no
// breaker has been created yet (nothing has ever been routed there).
func (m *Manager) State(service string) State {
	m.mu.RLock()
	cb, ok := m.breakers[service]
	m.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return fromGobreaker(cb.State())
}

// Snapshot returns the current status of every service breaker that has
// been instantiated.
func (m *Manager) Snapshot() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.breakers))
	for service, cb := range m.breakers {
		counts := cb.Counts()
		out = append(out, Snapshot{
			ServiceName: service,
			State:       fromGobreaker(cb.State()).String(),
			Requests:    counts.Requests,
			Failures:    counts.TotalFailures,
			Successes:   counts.TotalSuccesses,
		})
	}
	return out
}
