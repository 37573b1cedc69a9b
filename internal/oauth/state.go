package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pool_gateway/internal/storage"
)

// DefaultStateTTL bounds how long a consent flow may take
const DefaultStateTTL = 10 * time.Minute

// ErrInvalidState is returned for unknown, expired or reused states
var ErrInvalidState = errors.New("invalid or expired oauth state")

// StateStore binds a consent-flow nonce to the owner that started it.
// Consume succeeds at most once per state.
type StateStore interface {
	Issue(ctx context.Context, ownerID uuid.UUID) (string, error)
	Consume(ctx context.Context, state string) (uuid.UUID, error)
}

func newState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RedisStateStore keeps states in Redis so any replica can finish a flow
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStateStore creates a Redis-backed state store
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateStore{client: client, ttl: ttl}
}

func stateKey(state string) string {
	return "oauth:state:" + state
}

// Issue creates a new state for the owner
func (s *RedisStateStore) Issue(ctx context.Context, ownerID uuid.UUID) (string, error) {
	state, err := newState()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, stateKey(state), ownerID.String(), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	return state, nil
}

// Consume atomically reads and deletes a state
func (s *RedisStateStore) Consume(ctx context.Context, state string) (uuid.UUID, error) {
	if state == "" {
		return uuid.Nil, ErrInvalidState
	}
	val, err := s.client.GetDel(ctx, stateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrInvalidState
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	ownerID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, ErrInvalidState
	}
	return ownerID, nil
}

// MemoryStateStore keeps states in a bounded TTL cache for single-node use
type MemoryStateStore struct {
	cache *storage.LRUCache[uuid.UUID]
}

// NewMemoryStateStore creates an in-memory state store
func NewMemoryStateStore(capacity int, ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &MemoryStateStore{cache: storage.NewLRUCache[uuid.UUID](capacity, ttl)}
}

// Issue creates a new state for the owner
func (s *MemoryStateStore) Issue(ctx context.Context, ownerID uuid.UUID) (string, error) {
	state, err := newState()
	if err != nil {
		return "", err
	}
	s.cache.Set(state, ownerID)
	return state, nil
}

// Consume reads and deletes a state
func (s *MemoryStateStore) Consume(ctx context.Context, state string) (uuid.UUID, error) {
	ownerID, ok := s.cache.Take(state)
	if !ok {
		return uuid.Nil, ErrInvalidState
	}
	return ownerID, nil
}
