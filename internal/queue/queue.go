// Package queue implements Herald's transactional delivery job queue: two
// priority lanes backed by a single Postgres table, dequeued with
// SELECT ... FOR UPDATE SKIP LOCKED so multiple workers never race on the
// same job (spec §4.C4).
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/types"
)

// ErrEmpty is returned by Dequeue when a lane has no job ready before now.
var ErrEmpty = errors.New("queue: empty")

// Queue wraps the shared Postgres pool that also backs internal/store; job
// rows live alongside signal/delivery rows so fan-out insert and job
// enqueue commit atomically.
type Queue struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func New(pool *pgxpool.Pool, logger zerolog.Logger) *Queue {
	return &Queue{pool: pool, logger: logger}
}

// EnqueueFanout inserts one first-attempt job per active subscription,
// within the caller's transaction so it commits atomically with the signal
// insert that produced it (§4.C4: "a published signal fans out to a job per
// active subscription in the same transaction that records the signal").
func (q *Queue) EnqueueFanout(ctx context.Context, tx pgx.Tx, signalID string, subs []types.Subscription, lane types.Lane) error {
	now := time.Now().UTC()
	for _, sub := range subs {
		_, err := tx.Exec(ctx, `
			INSERT INTO delivery_jobs (signal_id, subscription_id, webhook_id, lane, attempt, not_before)
			VALUES ($1, $2, $3, $4, 1, $5)`,
			signalID, sub.ID, sub.WebhookID, lane, now)
		if err != nil {
			return fmt.Errorf("queue: enqueue fanout job: %w", err)
		}
	}
	return nil
}

// Dequeued is a job claimed from a lane, plus the open transaction it was
// claimed under. The caller must Commit once the claim is recorded (the
// worker commits right after inserting the pending delivery row, before the
// delivery attempt), or Rollback to return the job for another worker to
// pick up (the row itself was deleted, so a rollback is what un-claims it).
type Dequeued struct {
	Job types.DeliveryJob
	Tx  pgx.Tx
}

// Commit finalizes a successful claim.
func (d *Dequeued) Commit(ctx context.Context) error {
	return d.Tx.Commit(ctx)
}

// Rollback releases a claim without applying its side effects, returning
// the job to the lane for another worker (its row was never actually
// deleted from the table's perspective once the transaction aborts).
func (d *Dequeued) Rollback(ctx context.Context) error {
	return d.Tx.Rollback(ctx)
}

// Dequeue claims the oldest ready job in lane, locking its row with
// SKIP LOCKED so concurrent workers never contend on the same job, then
// deletes it from the table within the same (uncommitted) transaction.
// Returns ErrEmpty if no job in lane has not_before <= now.
func (q *Queue) Dequeue(ctx context.Context, lane types.Lane) (*Dequeued, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: begin dequeue tx: %w", err)
	}

	row := tx.QueryRow(ctx, `
		SELECT id, signal_id, subscription_id, webhook_id, lane, attempt, not_before
		FROM delivery_jobs
		WHERE lane = $1 AND not_before <= now()
		ORDER BY not_before ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, lane)

	var job types.DeliveryJob
	err = row.Scan(&job.ID, &job.SignalID, &job.SubscriptionID, &job.WebhookID, &job.Lane, &job.Attempt, &job.NotBefore)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return nil, ErrEmpty
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("queue: dequeue scan: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM delivery_jobs WHERE id = $1`, job.ID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("queue: dequeue delete: %w", err)
	}

	return &Dequeued{Job: job, Tx: tx}, nil
}

// Requeue inserts the next attempt for a job that failed delivery but has
// not yet exhausted the retry ladder, scheduled retryDelay from now.
func (q *Queue) Requeue(ctx context.Context, tx pgx.Tx, job types.DeliveryJob, retryDelay time.Duration) error {
	notBefore := time.Now().UTC().Add(retryDelay)
	_, err := tx.Exec(ctx, `
		INSERT INTO delivery_jobs (signal_id, subscription_id, webhook_id, lane, attempt, not_before)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.SignalID, job.SubscriptionID, job.WebhookID, job.Lane, job.Attempt+1, notBefore)
	if err != nil {
		return fmt.Errorf("queue: requeue job: %w", err)
	}
	return nil
}

// RequeueStandalone is Requeue run in its own transaction, for callers that
// already committed the transaction their claim used (the worker commits
// the Delivery row insert before attempting delivery, since an in-flight
// HTTP or WebSocket call must not hold a database transaction open).
func (q *Queue) RequeueStandalone(ctx context.Context, job types.DeliveryJob, retryDelay time.Duration) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("queue: begin requeue tx: %w", err)
	}
	if err := q.Requeue(ctx, tx, job, retryDelay); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Depth reports the number of ready jobs waiting in a lane, exposed as a
// gauge by internal/metrics.
func (q *Queue) Depth(ctx context.Context, lane types.Lane) (int64, error) {
	row := q.pool.QueryRow(ctx, `SELECT count(*) FROM delivery_jobs WHERE lane = $1 AND not_before <= now()`, lane)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return n, nil
}
