// Package ingest is Herald's publisher-facing HTTP surface: signal
// submission and the read-only listing/stats/DLQ endpoints (spec §4.C5,
// §6.1).
package ingest

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/identity"
	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/ratelimit"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/types"
)

// Store is the subset of internal/store.Store the ingest API needs.
// Declared locally so ingest has no compile-time dependency on the storage
// package's concrete type, matching internal/identity's Store interface pattern.
type Store interface {
	GetChannel(ctx context.Context, id string) (*types.Channel, error)
	ActiveSubscriptionsForChannel(ctx context.Context, channelID string) ([]types.Subscription, error)
	ListSignals(ctx context.Context, channelID string, limit int) ([]types.Signal, error)
	ChannelStats(ctx context.Context, channelID string) (*store.ChannelStats, error)
	DeliveriesForWebhook(ctx context.Context, webhookID string, limit int) ([]types.Delivery, error)
	ListDeadLetters(ctx context.Context, limit int) ([]types.DeadLetterEntry, error)
	GetDeadLetter(ctx context.Context, id string) (*types.DeadLetterEntry, error)
	ResolveDeadLetter(ctx context.Context, id string) error
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	InsertSignalTx(ctx context.Context, tx pgx.Tx, sig *types.Signal) error
}

// Queuer is the subset of internal/queue.Queue ingest needs to fan out jobs.
type Queuer interface {
	EnqueueFanout(ctx context.Context, tx pgx.Tx, signalID string, subs []types.Subscription, lane types.Lane) error
}

// Server wires the HTTP surface together.
type Server struct {
	store    Store
	queue    Queuer
	identity *identity.Service
	limiter  *ratelimit.Limiter
	limits   ratelimit.Limits
	logger   zerolog.Logger
	router   chi.Router
}

func NewServer(store Store, q Queuer, idSvc *identity.Service, limiter *ratelimit.Limiter, limits ratelimit.Limits, logger zerolog.Logger) *Server {
	s := &Server{store: store, queue: q, identity: idSvc, limiter: limiter, limits: limits, logger: logger}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Router() chi.Router { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.rateLimitMiddleware)

		r.Route("/channels/{channelID}", func(r chi.Router) {
			r.Post("/signals", s.handlePublishSignal)
			r.Get("/signals", s.handleListSignals)
			r.Get("/stats", s.handleChannelStats)
		})

		r.Get("/webhooks/{webhookID}/deliveries", s.handleListDeliveries)

		r.Route("/admin/dlq", func(r chi.Router) {
			r.Get("/", s.handleListDLQ)
			r.Post("/{entryID}/retry", s.handleRetryDLQ)
		})
	})

	return r
}

func requestID(ctx context.Context) string {
	id := middleware.GetReqID(ctx)
	if id == "" {
		return "req_unknown"
	}
	return "req_" + id
}

const defaultListLimit = 50
const maxBodyBytes = 1 << 20 // 1 MiB, per §4.C5
