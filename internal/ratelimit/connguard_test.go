package ratelimit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConnGuardAllowsBurstThenThrottles(t *testing.T) {
	g := NewConnGuard(3, 1.0, time.Minute, zerolog.Nop())
	defer g.Close()

	for i := 0; i < 3; i++ {
		if !g.Allow("1.2.3.4") {
			t.Fatalf("attempt %d should be allowed within burst", i+1)
		}
	}
	if g.Allow("1.2.3.4") {
		t.Fatalf("4th attempt should be throttled past burst capacity")
	}
}

func TestConnGuardIsolatesByIP(t *testing.T) {
	g := NewConnGuard(1, 1.0, time.Minute, zerolog.Nop())
	defer g.Close()

	if !g.Allow("10.0.0.1") {
		t.Fatalf("first attempt for 10.0.0.1 should be allowed")
	}
	if g.Allow("10.0.0.1") {
		t.Fatalf("second immediate attempt for 10.0.0.1 should be throttled")
	}
	if !g.Allow("10.0.0.2") {
		t.Fatalf("a different IP must have its own bucket")
	}
}

func TestConnGuardEvictsIdleEntries(t *testing.T) {
	g := NewConnGuard(1, 1.0, 10*time.Millisecond, zerolog.Nop())
	defer g.Close()

	g.Allow("10.0.0.1")
	g.mu.Lock()
	if len(g.limiters) != 1 {
		g.mu.Unlock()
		t.Fatalf("expected one tracked IP before eviction")
	}
	g.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	g.evictIdle()

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.limiters) != 0 {
		t.Fatalf("expected idle entry to be evicted, got %d remaining", len(g.limiters))
	}
}
