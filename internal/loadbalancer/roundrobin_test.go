package loadbalancer

import (
	"testing"

	"github.com/edgeway/gateway/internal/registry"
)

func instances(ids ...string) []*registry.Instance {
	out := make([]*registry.Instance, len(ids))
	for i, id := range ids {
		out[i] = &registry.Instance{ID: id}
	}
	return out
}

func TestRoundRobinCyclesEvenly(t *testing.T) {
	rr := NewRoundRobin()
	healthy := instances("a", "b", "c")

	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		counts[rr.Next(healthy).ID]++
	}
	for _, id := range []string{"a", "b", "c"} {
		if counts[id] != 3 {
			t.Errorf("instance %s picked %d times, want 3", id, counts[id])
		}
	}
}

func TestRoundRobinEmptyReturnsNil(t *testing.T) {
	rr := NewRoundRobin()
	if got := rr.Next(nil); got != nil {
		t.Fatalf("Next(nil) = %+v, want nil", got)
	}
}

func TestManagerKeepsPerServiceCounters(t *testing.T) {
	m := NewManager()
	usersHealthy := instances("u1", "u2")
	ordersHealthy := instances("o1")

	first := m.Next("users", usersHealthy)
	m.Next("orders", ordersHealthy)
	second := m.Next("users", usersHealthy)

	if first.ID == second.ID && len(usersHealthy) > 1 {
		t.Error("users counter should have advanced independently of orders")
	}
}
