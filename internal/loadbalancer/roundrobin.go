// Package loadbalancer selects one instance among a service's currently
// healthy instances. Health itself is tracked by the registry, not here
// — Discover already filters to healthy instances, so the balancer's
// only job is picking among an already-healthy set.
package loadbalancer

import (
	"sync"
	"sync/atomic"

	"github.com/edgeway/gateway/internal/registry"
)

// RoundRobin cycles through a healthy-instance slice handed to it fresh
// on every call; it holds no backend list of its own, so it never goes
// stale relative to the registry.
type RoundRobin struct {
	counter atomic.Uint64
}

// NewRoundRobin creates a round-robin selector whose only state is its
// cursor.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Next returns the next instance from healthy in round-robin order, or
// nil if healthy is empty.
func (rr *RoundRobin) Next(healthy []*registry.Instance) *registry.Instance {
	if len(healthy) == 0 {
		return nil
	}
	idx := rr.counter.Add(1) - 1
	return healthy[idx%uint64(len(healthy))]
}

// Manager owns one RoundRobin cursor per service name, so two services
// cycling through their own instance lists never share a counter.
type Manager struct {
	mu  sync.Mutex
	byService map[string]*RoundRobin
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{byService: make(map[string]*RoundRobin)}
}

// Next selects the next instance for serviceName among healthy.
func (m *Manager) Next(serviceName string, healthy []*registry.Instance) *registry.Instance {
	m.mu.Lock()
	rr, ok := m.byService[serviceName]
	if !ok {
		rr = NewRoundRobin()
		m.byService[serviceName] = rr
	}
	m.mu.Unlock()
	return rr.Next(healthy)
}
