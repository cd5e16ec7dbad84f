// README: Dispatch attempt log backed by Redis.
package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"speedyfood/internal/types"
)

const attemptKeyPrefix = "dispatch:order:%s"

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// RecordAttempt bumps the attempt counter and stores the last outcome.
func (s *Store) RecordAttempt(ctx context.Context, code types.ID, reason Reason, at time.Time) error {
	key := attemptKey(code)
	pipe := s.redis.TxPipeline()
	pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HSet(ctx, key, "last_reason", string(reason), "last_at", at.UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, attemptTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Attempts(ctx context.Context, code types.ID) (Attempts, error) {
	vals, err := s.redis.HGetAll(ctx, attemptKey(code)).Result()
	if err != nil {
		return Attempts{}, err
	}
	a := Attempts{OrderCode: code}
	if len(vals) == 0 {
		return a, nil
	}
	if a.Count, err = strconv.ParseInt(vals["count"], 10, 64); err != nil {
		return Attempts{}, fmt.Errorf("attempt count for %s: %w", code, err)
	}
	a.LastReason = Reason(vals["last_reason"])
	if raw := vals["last_at"]; raw != "" {
		if a.LastAt, err = time.Parse(time.RFC3339, raw); err != nil {
			return Attempts{}, fmt.Errorf("attempt time for %s: %w", code, err)
		}
	}
	return a, nil
}

func attemptKey(code types.ID) string {
	return fmt.Sprintf(attemptKeyPrefix, string(code))
}
