package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnGuard throttles WebSocket upgrade attempts per client IP before the
// tunnel handshake has identified a subscriber, protecting against upgrade
// floods that the per-API-key Redis bucket cannot see yet (§4.C2 expansion).
//
// Adapted from the teacher's ConnectionRateLimiter: per-IP token buckets
// plus periodic eviction of idle entries, minus the separate global-rate tier.
// The tunnel server does not bound the total number of connections.
type ConnGuard struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	burst    int
	rate     rate.Limit
	ttl      time.Duration
	logger   zerolog.Logger

	stop chan struct{}
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewConnGuard builds a per-IP connection rate limiter: burst instantaneous
// attempts, then perSecond sustained.
func NewConnGuard(burst int, perSecond float64, ttl time.Duration, logger zerolog.Logger) *ConnGuard {
	if burst <= 0 {
		burst = 10
	}
	if perSecond <= 0 {
		perSecond = 1.0
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	g := &ConnGuard{
		limiters: make(map[string]*ipEntry),
		burst:    burst,
		rate:     rate.Limit(perSecond),
		ttl:      ttl,
		logger:   logger,
		stop:     make(chan struct{}),
	}

	go g.cleanupLoop()
	return g
}

// Allow reports whether clientIP may attempt another connection now.
func (g *ConnGuard) Allow(clientIP string) bool {
	g.mu.Lock()
	entry, ok := g.limiters[clientIP]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(g.rate, g.burst)}
		g.limiters[clientIP] = entry
	}
	entry.lastAccess = time.Now()
	g.mu.Unlock()

	return entry.limiter.Allow()
}

func (g *ConnGuard) cleanupLoop() {
	ticker := time.NewTicker(g.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.evictIdle()
		}
	}
}

func (g *ConnGuard) evictIdle() {
	cutoff := time.Now().Add(-g.ttl)
	g.mu.Lock()
	defer g.mu.Unlock()
	for ip, entry := range g.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(g.limiters, ip)
		}
	}
}

// Close stops the background eviction loop.
func (g *ConnGuard) Close() {
	close(g.stop)
}
