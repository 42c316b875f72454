// Package tunnel implements the reverse WebSocket tunnel that lets
// subscribers receive signals without opening an inbound port (spec §4.C6).
package tunnel

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/metrics"
)

// Registry is the in-memory map from subscriber_id to its live local
// connection, one instance per Herald process. A subscriber connected to a
// different process is reached through cross-server routing (router.go),
// not through this map.
//
// Grounded in the teacher's Hub (go-server/pkg/websocket/hub.go), simplified
// from a channel-driven actor to a directly RWMutex-guarded map: Herald's
// registry is keyed by subscriber rather than anonymous, and displacement
// (a second connection for the same subscriber) needs a synchronous
// compare-and-swap the teacher's hub never needed.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	logger zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{byID: make(map[string]*Connection), logger: logger}
}

// Register installs conn as the live connection for subscriberID. If another
// connection already holds that slot, it is closed (the newer connection
// wins — a reconnecting agent displaces a stale one rather than being
// rejected).
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	old, existed := r.byID[conn.subscriberID]
	r.byID[conn.subscriberID] = conn
	r.mu.Unlock()

	if existed && old != conn {
		r.logger.Info().Str("subscriber_id", conn.subscriberID).Msg("displacing existing tunnel connection")
		old.closeWithReason("displaced by new connection")
	} else {
		metrics.TunnelConnectionsActive.Inc()
	}
}

// Unregister removes conn only if it is still the registered connection for
// its subscriber (an already-displaced connection must not delete the new one).
func (r *Registry) Unregister(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[conn.subscriberID]; ok && cur == conn {
		delete(r.byID, conn.subscriberID)
		metrics.TunnelConnectionsActive.Dec()
	}
}

// Get returns the live local connection for a subscriber, if any.
func (r *Registry) Get(subscriberID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[subscriberID]
	return c, ok
}

// Count returns the number of locally connected agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
