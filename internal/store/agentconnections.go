package store

import (
	"context"
	"fmt"

	"github.com/heraldhq/herald/internal/types"
)

// InsertAgentConnection records the start of a tunnel session (§4.C6).
func (s *Store) InsertAgentConnection(ctx context.Context, c *types.AgentConnection) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_connections (id, subscriber_id, server_id, connected_at)
		VALUES ($1, $2, $3, $4)`,
		c.ID, c.SubscriberID, c.ServerID, c.ConnectedAt)
	if err != nil {
		return fmt.Errorf("store: insert agent connection: %w", err)
	}
	return nil
}

// CloseAgentConnection stamps disconnect details on a tunnel session row.
func (s *Store) CloseAgentConnection(ctx context.Context, id string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_connections
		SET disconnected_at = now(), disconnect_reason = $2
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("store: close agent connection: %w", err)
	}
	return nil
}

// IncrementAgentConnectionDelivered bumps the signals_delivered counter for
// an open tunnel session, for ops visibility rather than the delivery path's
// own correctness (§4.C9).
func (s *Store) IncrementAgentConnectionDelivered(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_connections SET signals_delivered = signals_delivered + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: increment agent connection delivered: %w", err)
	}
	return nil
}
