// Command heraldd runs the Herald relay: the ingest HTTP API, the tunnel
// WebSocket endpoint, and the delivery worker pool, all sharing one
// Postgres-backed store and Redis-backed rate limiter (spec §4, §7).
//
// Wiring and graceful shutdown are grounded in the teacher's
// internal/server/server.go Start/Shutdown lifecycle: a context canceled by
// SIGINT/SIGTERM propagates to every background loop, followed by a bounded
// wait for them to drain before the process exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/identity"
	"github.com/heraldhq/herald/internal/ingest"
	"github.com/heraldhq/herald/internal/logging"
	"github.com/heraldhq/herald/internal/queue"
	"github.com/heraldhq/herald/internal/ratelimit"
	"github.com/heraldhq/herald/internal/stats"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/tunnel"
	"github.com/heraldhq/herald/internal/webhook"
	"github.com/heraldhq/herald/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	bootLogger := logging.New("info", "console")

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("server_id", cfg.ServerID).Logger()
	cfg.LogConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("heraldd exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	db, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	nc, err := nats.Connect(cfg.NATSURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Name("heraldd-"+cfg.ServerID),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	q := queue.New(db.Pool(), logger)

	idSvc := identity.NewService(db, logger)
	go idSvc.StartFlusher(ctx)

	limiter := ratelimit.NewLimiter(rdb)
	limits := ratelimit.Limits{Free: cfg.RateLimitFree, Pro: cfg.RateLimitPro, Ent: cfg.RateLimitEnt}
	connGuard := ratelimit.NewConnGuard(20, 2.0, 5*time.Minute, logger)
	defer connGuard.Close()

	registry := tunnel.NewRegistry(logger)
	router := tunnel.NewRouter(rdb, nc, cfg.ServerID, time.Duration(cfg.TunnelHeartbeatSecs)*2*time.Second, registry, logger)

	sub, err := router.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe tunnel forwarding subject: %w", err)
	}
	defer sub.Unsubscribe()

	tunnelSrv := tunnel.NewServer(
		cfg.ServerID, registry, router, connGuard, idSvc, db, db, q,
		time.Duration(cfg.TunnelHandshakeSecs)*time.Second,
		time.Duration(cfg.TunnelHeartbeatSecs)*time.Second,
		cfg.TunnelQueueCapacity,
		logger,
	)

	whClient := webhook.NewClient(time.Duration(cfg.DeliveryTimeoutSecs)*time.Second, cfg.HMACSecret)

	pool := worker.NewPool(db, q, tunnelSrv, whClient, cfg.WorkerConcurrency, time.Duration(cfg.DeliveryTimeoutSecs)*time.Second, logger)
	pool.Start(ctx)
	defer pool.Stop()

	refresher := stats.NewRefresher(db, 30*time.Second, logger)
	go refresher.Start(ctx)
	defer refresher.Stop()

	ingestSrv := ingest.NewServer(db, q, idSvc, limiter, limits, logger)
	mux := ingestSrv.Router()
	mux.Get("/v1/tunnel", tunnelSrv.ServeHTTP)

	httpSrv := &http.Server{
		Addr:         cfg.APIBind,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.IngestTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.IngestTimeoutSecs) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.APIBind).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	return nil
}

func newRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return client, nil
}
