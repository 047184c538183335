// Package redis stores replayable responses for Idempotency-Key requests.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/port"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "efi-bridge:idempotency:"

// IdempotencyStore implements port.IdempotencyStore on a Redis client.
type IdempotencyStore struct {
	client goredis.Cmdable
}

// NewIdempotencyStore wraps an existing client.
func NewIdempotencyStore(client goredis.Cmdable) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

// Get returns (nil, nil) on a miss.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*port.CachedResponse, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}

	var resp port.CachedResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}

// Reserve sets a pending marker with SET NX. It returns false when another
// request already holds or completed the key.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(port.CachedResponse{Pending: true})
	if err != nil {
		return false, fmt.Errorf("encode pending marker: %w", err)
	}
	ok, err := s.client.SetNX(ctx, keyPrefix+key, b, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

// Release deletes key so the request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Save stores resp under key for ttl, replacing a pending marker.
func (s *IdempotencyStore) Save(ctx context.Context, key string, resp port.CachedResponse, ttl time.Duration) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

var _ port.IdempotencyStore = (*IdempotencyStore)(nil)
