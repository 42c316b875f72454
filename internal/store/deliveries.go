package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/heraldhq/herald/internal/types"
)

// InsertDelivery records one delivery attempt in pending state. Normally
// called inside the same transaction as the delivery_jobs row it backs
// (see internal/queue), so it accepts a Querier rather than reaching for
// s.pool directly.
func (s *Store) InsertDelivery(ctx context.Context, q Querier, d *types.Delivery) error {
	_, err := q.Exec(ctx, `
		INSERT INTO deliveries (id, signal_id, subscription_id, webhook_id, mode, attempt, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.SignalID, d.SubscriptionID, d.WebhookID, d.Mode, d.Attempt, d.Status, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert delivery: %w", err)
	}
	return nil
}

// GetDelivery fetches a delivery by id.
func (s *Store) GetDelivery(ctx context.Context, id string) (*types.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, signal_id, subscription_id, webhook_id, mode, attempt, status,
		       http_status, error, latency_ms, created_at, completed_at
		FROM deliveries WHERE id = $1`, id)

	var d types.Delivery
	err := row.Scan(&d.ID, &d.SignalID, &d.SubscriptionID, &d.WebhookID, &d.Mode, &d.Attempt, &d.Status,
		&d.HTTPStatus, &d.Error, &d.LatencyMS, &d.CreatedAt, &d.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get delivery: %w", err)
	}
	return &d, nil
}

// CompleteDelivery marks a delivery row success or failed with its outcome
// details. Called by the worker after each delivery attempt (§4.C7).
func (s *Store) CompleteDelivery(ctx context.Context, id string, status types.DeliveryStatus, httpStatus *int, deliveryErr *string, latencyMS int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deliveries
		SET status = $2, http_status = $3, error = $4, latency_ms = $5, completed_at = now()
		WHERE id = $1`, id, status, httpStatus, deliveryErr, latencyMS)
	if err != nil {
		return fmt.Errorf("store: complete delivery: %w", err)
	}
	return nil
}

// DeliveriesForSignalSubscription lists every delivery attempt recorded for
// one (signal, subscription) pair, oldest first. Used to harvest the
// dead-letter error history once the retry ladder is exhausted (§3
// DeadLetterEntry, §4.C7 step 6).
func (s *Store) DeliveriesForSignalSubscription(ctx context.Context, signalID, subscriptionID string) ([]types.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, signal_id, subscription_id, webhook_id, mode, attempt, status,
		       http_status, error, latency_ms, created_at, completed_at
		FROM deliveries
		WHERE signal_id = $1 AND subscription_id = $2
		ORDER BY attempt ASC`, signalID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("store: list deliveries for signal/subscription: %w", err)
	}
	defer rows.Close()

	var out []types.Delivery
	for rows.Next() {
		var d types.Delivery
		if err := rows.Scan(&d.ID, &d.SignalID, &d.SubscriptionID, &d.WebhookID, &d.Mode, &d.Attempt, &d.Status,
			&d.HTTPStatus, &d.Error, &d.LatencyMS, &d.CreatedAt, &d.CompletedAt); err != nil {
			return nil, fmt.Errorf("store: scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeliveriesForWebhook lists recent deliveries that targeted a webhook,
// newest first, for the operator-facing deliveries endpoint (§6.1).
func (s *Store) DeliveriesForWebhook(ctx context.Context, webhookID string, limit int) ([]types.Delivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, signal_id, subscription_id, webhook_id, mode, attempt, status,
		       http_status, error, latency_ms, created_at, completed_at
		FROM deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list webhook deliveries: %w", err)
	}
	defer rows.Close()

	var out []types.Delivery
	for rows.Next() {
		var d types.Delivery
		if err := rows.Scan(&d.ID, &d.SignalID, &d.SubscriptionID, &d.WebhookID, &d.Mode, &d.Attempt, &d.Status,
			&d.HTTPStatus, &d.Error, &d.LatencyMS, &d.CreatedAt, &d.CompletedAt); err != nil {
			return nil, fmt.Errorf("store: scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// IncrementSignalCounters bumps a signal's attempt/outcome counters. Called
// alongside CompleteDelivery; kept denormalized on the signal row itself
// (unlike channel-level aggregates) because the API answers per-signal
// status directly from it (§3).
func (s *Store) IncrementSignalCounters(ctx context.Context, signalID string, delivered, failed bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE signals SET
			total_attempts = total_attempts + 1,
			delivered_count = delivered_count + $2,
			failed_count = failed_count + $3
		WHERE id = $1`, signalID, boolToInt(delivered), boolToInt(failed))
	if err != nil {
		return fmt.Errorf("store: increment signal counters: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
