package registry

import (
	"testing"
	"time"
)

func newInst(id, service string, healthy, discovered bool) *Instance {
	return &Instance{
		ID:           id,
		ServiceName:  service,
		Host:         "localhost",
		Port:         9000,
		Healthy:      healthy,
		Discovered:   discovered,
		RegisteredAt: time.Now(),
	}
}

func TestRegisterDedupesByID(t *testing.T) {
	r := New()
	r.Register(newInst("a", "users", true, true))
	updated := newInst("a", "users", false, true)
	r.Register(updated)

	all := r.AllServices()
	if len(all["users"]) != 1 {
		t.Fatalf("expected 1 instance after re-register, got %d", len(all["users"]))
	}
	if all["users"][0].Healthy {
		t.Fatal("expected the re-registered (unhealthy) instance to win")
	}
}

func TestDiscoverReturnsOnlyHealthy(t *testing.T) {
	r := New()
	r.Register(newInst("a", "users", true, true))
	r.Register(newInst("b", "users", false, true))

	got := r.Discover("users")
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("Discover = %+v, want only instance a", got)
	}
}

func TestDiscoverUnknownServiceReturnsEmpty(t *testing.T) {
	r := New()
	if got := r.Discover("ghost"); len(got) != 0 {
		t.Fatalf("expected empty slice, got %+v", got)
	}
}

func TestDeregisterDropsEmptyService(t *testing.T) {
	r := New()
	r.Register(newInst("a", "users", true, true))
	if err := r.Deregister("users", "a"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	all := r.AllServices()
	if _, ok := all["users"]; ok {
		t.Fatal("expected service key to be dropped once empty")
	}
}

func TestDeregisterUnknownReturnsErr(t *testing.T) {
	r := New()
	if err := r.Deregister("users", "missing"); err != ErrNotFound {
		t.Fatalf("Deregister unknown id = %v, want ErrNotFound", err)
	}
}

func TestSetHealthNeverRemoves(t *testing.T) {
	r := New()
	r.Register(newInst("a", "users", true, true))
	r.SetHealth("users", "a", false, time.Now())

	all := r.AllServices()
	if len(all["users"]) != 1 {
		t.Fatal("SetHealth must not remove the instance")
	}
	if all["users"][0].Healthy {
		t.Fatal("expected instance to be marked unhealthy")
	}
}

func TestEvictExpiredRemovesOnlyByTTL(t *testing.T) {
	r := New()
	old := newInst("a", "users", false, true)
	old.RegisteredAt = time.Now().Add(-2 * time.Hour)
	fresh := newInst("b", "users", false, true)
	r.Register(old)
	r.Register(fresh)

	evicted := r.EvictExpired(time.Hour, time.Now())
	if evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}
	all := r.AllServices()
	if len(all["users"]) != 1 || all["users"][0].ID != "b" {
		t.Fatalf("expected only fresh instance to survive, got %+v", all["users"])
	}
}

func TestEvictExpiredAtBoundaryIsStillLive(t *testing.T) {
	r := New()
	now := time.Now()
	inst := newInst("a", "users", true, true)
	inst.RegisteredAt = now.Add(-time.Hour)
	r.Register(inst)

	// Exactly at the TTL boundary: age == ttl, not > ttl, so it survives.
	if evicted := r.EvictExpired(time.Hour, now); evicted != 0 {
		t.Fatalf("evicted = %d at exact boundary, want 0", evicted)
	}
	// One tick later it is evicted.
	if evicted := r.EvictExpired(time.Hour, now.Add(time.Millisecond)); evicted != 1 {
		t.Fatalf("evicted = %d one tick past boundary, want 1", evicted)
	}
}

func TestPurgeByOriginRemovesOnlyMatchingFlag(t *testing.T) {
	r := New()
	r.Register(newInst("static-1", "users", true, false))
	r.Register(newInst("dyn-1", "users", true, true))

	r.PurgeByOrigin(false) // switching to dynamic: purge static instances
	all := r.AllServices()
	if len(all["users"]) != 1 || all["users"][0].ID != "dyn-1" {
		t.Fatalf("expected only dynamic instance to remain, got %+v", all["users"])
	}

	r.PurgeByOrigin(true) // switching to static: purge dynamic instances
	all = r.AllServices()
	if _, ok := all["users"]; ok {
		t.Fatalf("expected service to be empty after purging dynamic, got %+v", all["users"])
	}
}

func TestStats(t *testing.T) {
	r := New()
	r.Register(newInst("a", "users", true, true))
	r.Register(newInst("b", "users", false, true))

	s := r.Stats("users")
	if s.Total != 2 || s.Healthy != 1 {
		t.Fatalf("Stats = %+v, want Total=2 Healthy=1", s)
	}
}
