package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/heraldhq/herald/internal/types"
)

// CreateSubscription links a subscriber to a channel.
func (s *Store) CreateSubscription(ctx context.Context, sub *types.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, subscriber_id, channel_id, webhook_id, status)
		VALUES ($1, $2, $3, $4, $5)`,
		sub.ID, sub.SubscriberID, sub.ChannelID, sub.WebhookID, sub.Status)
	if err != nil {
		return fmt.Errorf("store: create subscription: %w", err)
	}
	return nil
}

// GetSubscription fetches a subscription by id.
func (s *Store) GetSubscription(ctx context.Context, id string) (*types.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, subscriber_id, channel_id, webhook_id, status, created_at
		FROM subscriptions WHERE id = $1`, id)

	var sub types.Subscription
	err := row.Scan(&sub.ID, &sub.SubscriberID, &sub.ChannelID, &sub.WebhookID, &sub.Status, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get subscription: %w", err)
	}
	return &sub, nil
}
