package idgate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptStore counts wrong answers per login challenge. The counter lives
// server side, keyed by the challenge id from the step capsule, so replaying
// an old capsule cannot reset it.
type attemptStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newAttemptStore(redisClient redis.UniversalClient, prefix string) *attemptStore {
	return &attemptStore{redis: redisClient, prefix: prefix}
}

func (s *attemptStore) key(challengeID string) string {
	return s.prefix + ":la:" + challengeID
}

// RecordFailure bumps the counter for challengeID and returns the new total.
// The key expires alongside the capsule.
func (s *attemptStore) RecordFailure(ctx context.Context, challengeID string, ttl time.Duration) (int, error) {
	key := s.key(challengeID)

	pipe := s.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(incr.Val()), nil
}

// Failures returns the current count without mutating it.
func (s *attemptStore) Failures(ctx context.Context, challengeID string) (int, error) {
	n, err := s.redis.Get(ctx, s.key(challengeID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Clear removes the counter once a challenge resolves.
func (s *attemptStore) Clear(ctx context.Context, challengeID string) {
	_ = s.redis.Del(ctx, s.key(challengeID)).Err()
}
