// Package store is Herald's durable persistence layer: signals, subscriptions,
// webhooks, deliveries, dead letters and API keys, all backed by Postgres via
// pgxpool (spec §4.C3).
package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/types"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting helper
// methods run either standalone or inside a caller-managed transaction (the
// queue package dequeues a job and writes its delivery row in one transaction).
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

//go:embed schema.sql
var schemaSQL string

// Store wraps a pgxpool.Pool and exposes the narrow, per-domain query methods
// the rest of Herald needs. It satisfies the narrow store interfaces declared
// by internal/identity, internal/ingest, internal/stats, internal/tunnel and
// internal/worker.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Open connects to Postgres and applies the embedded schema idempotently.
func Open(ctx context.Context, databaseURL string, logger zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	s.logger.Info().Msg("schema applied")
	return nil
}

// Pool exposes the underlying pool for components that need to run their own
// transactions against shared tables (the queue package claims and requeues
// jobs on it, and the worker inserts the pending delivery row inside the
// claim transaction).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// WithTx runs fn inside a transaction, committing on a nil return and
// rolling back otherwise. Used by the ingest path to make the signal insert
// and its job fan-out atomic (§4.C5).
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// InsertSignalTx is InsertSignal run against an explicit transaction.
func (s *Store) InsertSignalTx(ctx context.Context, tx pgx.Tx, sig *types.Signal) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO signals (id, channel_id, title, body, urgency, metadata, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sig.ID, sig.ChannelID, sig.Title, sig.Body, sig.Urgency, sig.Metadata, sig.Status, sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert signal (tx): %w", err)
	}
	return nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
