package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "revoked:jti:"

// commander is the subset of the Redis client used by RevocationStore
type commander interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RevocationStore keeps revoked token ids in Redis with a TTL matching
// the revocation deadline
type RevocationStore struct {
	client commander
	now    func() time.Time
}

// NewRevocationStore creates a store on client
func NewRevocationStore(client commander) *RevocationStore {
	return &RevocationStore{client: client, now: time.Now}
}

func revokedKey(jti string) string {
	return revokedKeyPrefix + jti
}

// Revoke marks jti revoked until the given time. Past deadlines are ignored.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store revoked token: %w", err)
	}
	return nil
}

// RevokeOnce marks jti revoked with SET NX and reports whether this call set it
func (s *RevocationStore) RevokeOnce(ctx context.Context, jti string, until time.Time) (bool, error) {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return true, nil
	}
	set, err := s.client.SetNX(ctx, revokedKey(jti), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to store revoked token: %w", err)
	}
	return set, nil
}

// IsRevoked reports whether jti is currently revoked
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return n > 0, nil
}
