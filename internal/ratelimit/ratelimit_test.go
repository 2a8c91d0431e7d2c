package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAllowsUpToMax(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := l.Allow(ctx, "user-1", 1000, 3)
		if !d.Allowed {
			t.Fatalf("request %d should be allowed within max", i)
		}
	}
	d := l.Allow(ctx, "user-1", 1000, 3)
	if d.Allowed {
		t.Fatal("4th request should be rejected, max is 3")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
}

func TestMemoryLimiterResetsAtWindowBoundary(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	l.Allow(ctx, "user-1", 20, 1)
	if d := l.Allow(ctx, "user-1", 20, 1); d.Allowed {
		t.Fatal("second request within the same window should be rejected")
	}

	time.Sleep(25 * time.Millisecond)
	if d := l.Allow(ctx, "user-1", 20, 1); !d.Allowed {
		t.Fatal("request in a new window should be allowed")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	l.Allow(ctx, "user-1", 1000, 1)
	d := l.Allow(ctx, "user-2", 1000, 1)
	if !d.Allowed {
		t.Fatal("a different key must have its own independent counter")
	}
}
