// Package stats periodically recomputes the denormalized per-channel counters
// (signal_count and subscriber_count) the read API exposes (spec §4.C9). It
// does not fold delivery outcomes: per-signal delivered/failed counters are
// bumped by the worker and the tunnel server as each attempt is recorded, and
// webhook counters are not touched here.
// The delivery path never depends on these numbers being exact; this job
// exists so GET /v1/channels/{id}/stats stays close to reality without every
// read paying for a live aggregation query.
package stats

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Store is the subset of internal/store.Store the stats job needs.
type Store interface {
	AllChannelIDs(ctx context.Context) ([]string, error)
	RefreshChannelCounters(ctx context.Context, channelID string) error
}

// Refresher runs RefreshChannelCounters over every channel on a fixed
// interval, grounded in the teacher's EnhancedMetrics collection loop
// (go-server/internal/metrics/enhanced.go), generalized from an in-process
// system-metrics sampler to a Postgres counter refresh.
type Refresher struct {
	store    Store
	interval time.Duration
	logger   zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewRefresher(store Store, interval time.Duration, logger zerolog.Logger) *Refresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the refresh loop until the context is canceled or Stop is
// called. Intended to run in its own goroutine.
func (r *Refresher) Start(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for it to return.
func (r *Refresher) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Refresher) refreshAll(ctx context.Context) {
	ids, err := r.store.AllChannelIDs(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("stats: failed to list channels")
		return
	}
	for _, id := range ids {
		if err := r.store.RefreshChannelCounters(ctx, id); err != nil {
			r.logger.Warn().Err(err).Str("channel_id", id).Msg("stats: failed to refresh channel counters")
		}
	}
}
