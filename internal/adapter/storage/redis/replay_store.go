package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ReplayStore implements ports.ReplayStore using Redis SET NX. Each verified
// webhook signature is remembered for the replay TTL; a second verification
// of the same signature within that window is rejected.
type ReplayStore struct {
	client *goredis.Client
	prefix string
}

// NewReplayStore creates a new Redis-backed replay store.
func NewReplayStore(client *goredis.Client) *ReplayStore {
	return &ReplayStore{
		client: client,
		prefix: "whsig:",
	}
}

// CheckAndSet atomically records the signature, returning true when it was
// not seen within the TTL.
func (s *ReplayStore) CheckAndSet(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetArgs(ctx, s.prefix+signature, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// Key already exists — signature was already seen
			return false, nil
		}
		return false, fmt.Errorf("redis replay check: %w", err)
	}
	return result == "OK", nil
}
