package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/heraldhq/herald/internal/types"
)

// InsertSignal persists a newly published signal.
func (s *Store) InsertSignal(ctx context.Context, sig *types.Signal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signals (id, channel_id, title, body, urgency, metadata, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sig.ID, sig.ChannelID, sig.Title, sig.Body, sig.Urgency, sig.Metadata, sig.Status, sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert signal: %w", err)
	}
	return nil
}

// GetSignal fetches a signal by id.
func (s *Store) GetSignal(ctx context.Context, id string) (*types.Signal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, title, body, urgency, metadata, total_attempts,
		       delivered_count, failed_count, status, created_at
		FROM signals WHERE id = $1`, id)

	var sig types.Signal
	err := row.Scan(&sig.ID, &sig.ChannelID, &sig.Title, &sig.Body, &sig.Urgency, &sig.Metadata,
		&sig.TotalAttempts, &sig.DeliveredCount, &sig.FailedCount, &sig.Status, &sig.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get signal: %w", err)
	}
	return &sig, nil
}

// ListSignals returns the most recent signals on a channel, newest first.
func (s *Store) ListSignals(ctx context.Context, channelID string, limit int) ([]types.Signal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, title, body, urgency, metadata, total_attempts,
		       delivered_count, failed_count, status, created_at
		FROM signals
		WHERE channel_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list signals: %w", err)
	}
	defer rows.Close()

	var out []types.Signal
	for rows.Next() {
		var sig types.Signal
		if err := rows.Scan(&sig.ID, &sig.ChannelID, &sig.Title, &sig.Body, &sig.Urgency, &sig.Metadata,
			&sig.TotalAttempts, &sig.DeliveredCount, &sig.FailedCount, &sig.Status, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// ChannelStats is the aggregate view returned by GET /v1/channels/{id}/stats.
type ChannelStats struct {
	SignalCount     int64
	SubscriberCount int64
	TotalAttempts   int64
	DeliveredCount  int64
	FailedCount     int64
}

// ChannelStats reads the denormalized counters the stats job maintains (§4.C9).
func (s *Store) ChannelStats(ctx context.Context, channelID string) (*ChannelStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT c.signal_count, c.subscriber_count,
		       COALESCE(SUM(sg.total_attempts), 0),
		       COALESCE(SUM(sg.delivered_count), 0),
		       COALESCE(SUM(sg.failed_count), 0)
		FROM channels c
		LEFT JOIN signals sg ON sg.channel_id = c.id
		WHERE c.id = $1
		GROUP BY c.signal_count, c.subscriber_count`, channelID)

	var st ChannelStats
	err := row.Scan(&st.SignalCount, &st.SubscriberCount, &st.TotalAttempts, &st.DeliveredCount, &st.FailedCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: channel stats: %w", err)
	}
	return &st, nil
}

// RefreshChannelCounters recomputes signal_count and subscriber_count for a
// channel from first principles. Called by the stats job (§4.C9), never
// relied on for correctness of the delivery path itself.
func (s *Store) RefreshChannelCounters(ctx context.Context, channelID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE channels c SET
			signal_count = (SELECT count(*) FROM signals WHERE channel_id = c.id),
			subscriber_count = (SELECT count(*) FROM subscriptions WHERE channel_id = c.id AND status = 'active')
		WHERE c.id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("store: refresh channel counters: %w", err)
	}
	return nil
}

// AllChannelIDs returns every channel id, used by the stats job to iterate.
func (s *Store) AllChannelIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM channels`)
	if err != nil {
		return nil, fmt.Errorf("store: list channel ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan channel id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
