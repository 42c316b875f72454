package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/heraldhq/herald/internal/types"
)

// This file holds the minimal CRUD needed for the marketplace-identity
// tables (publishers, subscribers, channels) that Herald itself does not
// manage end to end — provisioning of these rows is assumed to happen
// through whatever admin tooling wraps Herald, so only the operations the
// ingest and tunnel paths actually need are implemented (§3 expansion).

// EnsurePublisher inserts a publisher row if one doesn't already exist.
func (s *Store) EnsurePublisher(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO publishers (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("store: ensure publisher: %w", err)
	}
	return nil
}

// EnsureSubscriber inserts a subscriber row if one doesn't already exist.
func (s *Store) EnsureSubscriber(ctx context.Context, id string, mode types.DeliveryMode) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscribers (id, delivery_mode) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, id, mode)
	if err != nil {
		return fmt.Errorf("store: ensure subscriber: %w", err)
	}
	return nil
}

// GetSubscriber fetches a subscriber by id.
func (s *Store) GetSubscriber(ctx context.Context, id string) (*types.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, delivery_mode FROM subscribers WHERE id = $1`, id)
	var sub types.Subscriber
	if err := row.Scan(&sub.ID, &sub.DeliveryMode); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get subscriber: %w", err)
	}
	return &sub, nil
}

// CreateChannel inserts a new channel owned by publisherID.
func (s *Store) CreateChannel(ctx context.Context, ch *types.Channel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channels (id, publisher_id, slug, display_name, status)
		VALUES ($1, $2, $3, $4, $5)`,
		ch.ID, ch.PublisherID, ch.Slug, ch.DisplayName, ch.Status)
	if err != nil {
		return fmt.Errorf("store: create channel: %w", err)
	}
	return nil
}

// GetChannel fetches a channel by id.
func (s *Store) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, publisher_id, slug, display_name, status FROM channels WHERE id = $1`, id)
	var ch types.Channel
	if err := row.Scan(&ch.ID, &ch.PublisherID, &ch.Slug, &ch.DisplayName, &ch.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get channel: %w", err)
	}
	return &ch, nil
}

// GetChannelBySlug fetches a channel by its unique slug.
func (s *Store) GetChannelBySlug(ctx context.Context, slug string) (*types.Channel, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, publisher_id, slug, display_name, status FROM channels WHERE slug = $1`, slug)
	var ch types.Channel
	if err := row.Scan(&ch.ID, &ch.PublisherID, &ch.Slug, &ch.DisplayName, &ch.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get channel by slug: %w", err)
	}
	return &ch, nil
}

// ActiveSubscriptionsForChannel returns every active subscription fanning
// out of a channel, used to build delivery jobs on signal ingest (§4.C4).
func (s *Store) ActiveSubscriptionsForChannel(ctx context.Context, channelID string) ([]types.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscriber_id, channel_id, webhook_id, status, created_at
		FROM subscriptions
		WHERE channel_id = $1 AND status = 'active'`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: list active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []types.Subscription
	for rows.Next() {
		var sub types.Subscription
		if err := rows.Scan(&sub.ID, &sub.SubscriberID, &sub.ChannelID, &sub.WebhookID, &sub.Status, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CreateWebhook inserts a new webhook endpoint for a subscriber.
func (s *Store) CreateWebhook(ctx context.Context, wh *types.Webhook) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhooks (id, subscriber_id, url, bearer_token, secret, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		wh.ID, wh.SubscriberID, wh.URL, wh.BearerToken, wh.Secret, wh.Status)
	if err != nil {
		return fmt.Errorf("store: create webhook: %w", err)
	}
	return nil
}

// GetWebhook fetches a webhook by id, including its signing secret.
func (s *Store) GetWebhook(ctx context.Context, id string) (*types.Webhook, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, subscriber_id, url, bearer_token, secret, status, failure_count,
		       last_success_at, last_failure_at
		FROM webhooks WHERE id = $1`, id)

	var wh types.Webhook
	err := row.Scan(&wh.ID, &wh.SubscriberID, &wh.URL, &wh.BearerToken, &wh.Secret, &wh.Status,
		&wh.FailureCount, &wh.LastSuccessAt, &wh.LastFailureAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get webhook: %w", err)
	}
	return &wh, nil
}

// RecordWebhookSuccess clears the failure streak and stamps last_success_at.
func (s *Store) RecordWebhookSuccess(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhooks SET failure_count = 0, last_success_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: record webhook success: %w", err)
	}
	return nil
}

// RecordWebhookFailure increments the failure streak and stamps last_failure_at.
func (s *Store) RecordWebhookFailure(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhooks SET failure_count = failure_count + 1, last_failure_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: record webhook failure: %w", err)
	}
	return nil
}
