package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/heraldhq/herald/internal/types"
)

// InsertDeadLetter records a terminally-failed delivery, called by the
// worker once a subscription exhausts the retry ladder (§4.C7).
func (s *Store) InsertDeadLetter(ctx context.Context, entry *types.DeadLetterEntry) error {
	history, err := json.Marshal(entry.ErrorHistory)
	if err != nil {
		return fmt.Errorf("store: marshal error history: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dead_letter_entries
			(id, delivery_id, signal_id, subscription_id, payload, error_history, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (signal_id, subscription_id) DO UPDATE SET
			error_history = EXCLUDED.error_history`,
		entry.ID, entry.DeliveryID, entry.SignalID, entry.SubscriptionID, entry.Payload, history, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns unresolved dead-letter entries, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]types.DeadLetterEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, delivery_id, signal_id, subscription_id, payload, error_history, created_at, resolved_at
		FROM dead_letter_entries
		WHERE resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list dead letters: %w", err)
	}
	defer rows.Close()

	var out []types.DeadLetterEntry
	for rows.Next() {
		var e types.DeadLetterEntry
		var history []byte
		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.SignalID, &e.SubscriptionID, &e.Payload, &history, &e.CreatedAt, &e.ResolvedAt); err != nil {
			return nil, fmt.Errorf("store: scan dead letter: %w", err)
		}
		if err := json.Unmarshal(history, &e.ErrorHistory); err != nil {
			return nil, fmt.Errorf("store: unmarshal error history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetDeadLetter fetches a single dead-letter entry by id, for the retry endpoint.
func (s *Store) GetDeadLetter(ctx context.Context, id string) (*types.DeadLetterEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, delivery_id, signal_id, subscription_id, payload, error_history, created_at, resolved_at
		FROM dead_letter_entries WHERE id = $1`, id)

	var e types.DeadLetterEntry
	var history []byte
	err := row.Scan(&e.ID, &e.DeliveryID, &e.SignalID, &e.SubscriptionID, &e.Payload, &history, &e.CreatedAt, &e.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get dead letter: %w", err)
	}
	if err := json.Unmarshal(history, &e.ErrorHistory); err != nil {
		return nil, fmt.Errorf("store: unmarshal error history: %w", err)
	}
	return &e, nil
}

// ResolveDeadLetter stamps resolved_at, used once a manual retry is enqueued.
func (s *Store) ResolveDeadLetter(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dead_letter_entries SET resolved_at = now() WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("store: resolve dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
