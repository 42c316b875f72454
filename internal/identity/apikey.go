// Package identity implements API key issuance/validation and HMAC payload
// signing (spec §4.C1).
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/herrors"
	"github.com/heraldhq/herald/internal/types"
)

// Store is the subset of the durable store identity needs. It is satisfied
// by *store.Store; declared here so this package has no import-time
// dependency on the storage layer.
type Store interface {
	InsertApiKey(ctx context.Context, key *types.ApiKey) error
	FindActiveApiKeyByHash(ctx context.Context, hash string) (*types.ApiKey, error)
	RevokeApiKey(ctx context.Context, id string) error
	TouchApiKeysLastUsed(ctx context.Context, ids []string, at time.Time) error
}

// Service issues and validates API keys and performs HMAC signing/verification.
//
// last_used_at updates are coalesced in memory and flushed periodically
// instead of written on every authenticated request (§4.C1 expansion).
type Service struct {
	store  Store
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]time.Time // key id -> most recent use

	flushInterval time.Duration
}

// NewService constructs the identity service. Call StartFlusher to begin the
// background last_used_at coalescing loop.
func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:         store,
		logger:        logger,
		pending:       make(map[string]time.Time),
		flushInterval: 5 * time.Second,
	}
}

const rawKeyBytes = 24 // 24 URL-safe base64 characters, per spec §4.C1

// Issue generates a new API key for the given owner and persists its hash.
// The raw key is returned exactly once; only its hash and 12-char prefix are
// ever stored.
func (s *Service) Issue(ctx context.Context, ownerType types.ApiKeyOwnerType, ownerID string) (id string, rawKey string, err error) {
	rolePrefix := "hld_pub_"
	if ownerType == types.OwnerSubscriber {
		rolePrefix = "hld_sub_"
	}

	var buf [rawKeyBytes]byte
	if _, rerr := rand.Read(buf[:]); rerr != nil {
		return "", "", herrors.Wrap(herrors.CodeInternal, "failed to generate key material", rerr)
	}
	identifier := base64.RawURLEncoding.EncodeToString(buf[:])[:rawKeyBytes]
	raw := rolePrefix + identifier

	hash := HashKey(raw)
	id = types.NewID("key")

	key := &types.ApiKey{
		ID:        id,
		KeyHash:   hash,
		Prefix:    raw[:12],
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Status:    types.ApiKeyActive,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.InsertApiKey(ctx, key); err != nil {
		return "", "", herrors.Wrap(herrors.CodeInternal, "failed to persist api key", err)
	}

	return id, raw, nil
}

// HashKey computes the storage hash for a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// AuthResult is what successful validation attaches to the request context.
type AuthResult struct {
	KeyID     string
	OwnerType types.ApiKeyOwnerType
	OwnerID   string
}

// Validate extracts a Bearer token, hashes it, and looks up an active key.
func (s *Service) Validate(ctx context.Context, authorizationHeader string) (*AuthResult, error) {
	raw, err := extractBearer(authorizationHeader)
	if err != nil {
		return nil, herrors.Wrap(herrors.CodeUnauthorized, "missing or malformed authorization header", err)
	}
	return s.ValidateRaw(ctx, raw)
}

// ValidateRaw validates a raw key value directly, without the Bearer-header
// wrapper: used by the tunnel handshake, whose auth message carries the key
// as a bare token field rather than an Authorization header (§4.C6).
func (s *Service) ValidateRaw(ctx context.Context, raw string) (*AuthResult, error) {
	hash := HashKey(raw)
	key, err := s.store.FindActiveApiKeyByHash(ctx, hash)
	if err != nil {
		return nil, herrors.Wrap(herrors.CodeUnauthorized, "invalid api key", err)
	}
	if key == nil {
		return nil, herrors.New(herrors.CodeUnauthorized, "invalid api key")
	}

	s.markUsed(key.ID)

	return &AuthResult{KeyID: key.ID, OwnerType: key.OwnerType, OwnerID: key.OwnerID}, nil
}

// Revoke flips an API key's status to revoked. Idempotent.
func (s *Service) Revoke(ctx context.Context, keyID string) error {
	if err := s.store.RevokeApiKey(ctx, keyID); err != nil {
		return herrors.Wrap(herrors.CodeInternal, "failed to revoke api key", err)
	}
	return nil
}

func (s *Service) markUsed(keyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[keyID] = time.Now().UTC()
}

// StartFlusher runs until ctx is canceled, periodically flushing coalesced
// last_used_at timestamps to the store.
func (s *Service) StartFlusher(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *Service) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(s.pending))
	var latest time.Time
	for id, at := range s.pending {
		ids = append(ids, id)
		if at.After(latest) {
			latest = at
		}
	}
	s.pending = make(map[string]time.Time)
	s.mu.Unlock()

	if err := s.store.TouchApiKeysLastUsed(ctx, ids, latest); err != nil {
		s.logger.Warn().Err(err).Int("count", len(ids)).Msg("failed to flush api key last_used_at")
	}
}

func extractBearer(header string) (string, error) {
	const prefix = "Bearer "
	if header == "" || !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("authorization header missing or not a bearer token")
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	return token, nil
}
