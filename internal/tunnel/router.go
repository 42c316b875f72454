package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/types"
)

// Router resolves which Herald process instance currently holds a
// subscriber's tunnel connection and forwards pushes to it across the
// process boundary (§4.C6 expansion).
//
// subscriber_id -> server_id lives in Redis with a TTL refreshed on every
// heartbeat; a forwarding push is a JSON-encoded NATS publish to
// herald.tunnel.push.<server_id>, which every instance subscribes to under
// its own server_id at startup. Grounded in the teacher's pkg/nats client
// (subject builders, JSON publish/subscribe) and the ws/internal/multi
// shard/broadcast-bus design, generalized from CPU-core shard to server
// instance.
type Router struct {
	rdb      *redis.Client
	nc       *nats.Conn
	serverID string
	ttl      time.Duration
	logger   zerolog.Logger
	registry *Registry
}

func NewRouter(rdb *redis.Client, nc *nats.Conn, serverID string, ttl time.Duration, registry *Registry, logger zerolog.Logger) *Router {
	return &Router{rdb: rdb, nc: nc, serverID: serverID, ttl: ttl, registry: registry, logger: logger}
}

func homeKey(subscriberID string) string {
	return "tunnel:home:" + subscriberID
}

func pushSubject(serverID string) string {
	return "herald.tunnel.push." + serverID
}

// MarkHome records that subscriberID's tunnel is now local to this server
// instance, refreshed periodically by the heartbeat loop as long as the
// connection stays open.
func (r *Router) MarkHome(ctx context.Context, subscriberID, serverID string) {
	if err := r.rdb.Set(ctx, homeKey(subscriberID), serverID, r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("subscriber_id", subscriberID).Msg("failed to record tunnel home")
	}
}

// ClearHome removes the routing entry on clean disconnect.
func (r *Router) ClearHome(ctx context.Context, subscriberID string) {
	if err := r.rdb.Del(ctx, homeKey(subscriberID)).Err(); err != nil {
		r.logger.Warn().Err(err).Str("subscriber_id", subscriberID).Msg("failed to clear tunnel home")
	}
}

// Forward looks up which instance owns subscriberID's connection and
// publishes the push to that instance's NATS subject. Returns false with no
// error if the subscriber has no recorded home (agent not connected
// anywhere known).
func (r *Router) Forward(ctx context.Context, subscriberID string, msg types.TunnelSignalPush) (bool, error) {
	home, err := r.rdb.Get(ctx, homeKey(subscriberID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tunnel: lookup home: %w", err)
	}
	if home == r.serverID {
		// Home record is stale (local registry already dropped this
		// connection); treat as not connected rather than forward to self.
		return false, nil
	}

	envelope := forwardEnvelope{SubscriberID: subscriberID, Push: msg}
	body, err := json.Marshal(envelope)
	if err != nil {
		return false, fmt.Errorf("tunnel: marshal forward envelope: %w", err)
	}

	if err := r.nc.Publish(pushSubject(home), body); err != nil {
		return false, fmt.Errorf("tunnel: publish forward: %w", err)
	}
	return true, nil
}

// forwardEnvelope is the wire shape published to another instance's push subject.
type forwardEnvelope struct {
	SubscriberID string                 `json:"subscriber_id"`
	Push         types.TunnelSignalPush `json:"push"`
}

// Subscribe starts listening on this instance's own push subject, handing
// matching messages to the local registry exactly as if they had arrived
// from a local Push call (§4.C6 expansion).
func (r *Router) Subscribe() (*nats.Subscription, error) {
	sub, err := r.nc.Subscribe(pushSubject(r.serverID), func(m *nats.Msg) {
		var env forwardEnvelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			r.logger.Warn().Err(err).Msg("failed to unmarshal forwarded tunnel push")
			return
		}
		conn, ok := r.registry.Get(env.SubscriberID)
		if !ok {
			r.logger.Debug().Str("subscriber_id", env.SubscriberID).Msg("forwarded push for subscriber with no local connection")
			return
		}
		conn.Push(env.Push)
	})
	if err != nil {
		return nil, fmt.Errorf("tunnel: subscribe to push subject: %w", err)
	}
	return sub, nil
}
