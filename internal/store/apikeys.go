package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/heraldhq/herald/internal/types"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// InsertApiKey persists a newly issued key. Satisfies internal/identity.Store.
func (s *Store) InsertApiKey(ctx context.Context, key *types.ApiKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, prefix, owner_type, owner_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.KeyHash, key.Prefix, key.OwnerType, key.OwnerID, key.Status, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert api key: %w", err)
	}
	return nil
}

// FindActiveApiKeyByHash looks up a key by its sha256 hash, active only.
// Satisfies internal/identity.Store.
func (s *Store) FindActiveApiKeyByHash(ctx context.Context, hash string) (*types.ApiKey, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, key_hash, prefix, owner_type, owner_id, status, last_used_at, created_at
		FROM api_keys
		WHERE key_hash = $1 AND status = 'active'`, hash)

	var k types.ApiKey
	err := row.Scan(&k.ID, &k.KeyHash, &k.Prefix, &k.OwnerType, &k.OwnerID, &k.Status, &k.LastUsedAt, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find api key: %w", err)
	}
	return &k, nil
}

// RevokeApiKey marks a key revoked. Satisfies internal/identity.Store.
func (s *Store) RevokeApiKey(ctx context.Context, keyID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET status = 'revoked' WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("store: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchApiKeysLastUsed bulk-updates last_used_at for a batch of key IDs,
// called periodically by identity.Service's flusher rather than on every
// validated request. Satisfies internal/identity.Store.
func (s *Store) TouchApiKeysLastUsed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE api_keys SET last_used_at = $2 WHERE id = ANY($1)`, ids, at)
	if err != nil {
		return fmt.Errorf("store: touch api keys: %w", err)
	}
	return nil
}
