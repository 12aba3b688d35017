package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "presence:"
	activityTTL   = 30 * 24 * time.Hour
	fieldOnline   = "online"
	fieldActiveAt = "last_active"
)

// RedisActivityRecorder keeps a per-user {online, last_active} hash in
// Redis so other services can show when a user was last around.
type RedisActivityRecorder struct {
	rdb redis.Cmdable
}

func NewRedisActivityRecorder(rdb redis.Cmdable) *RedisActivityRecorder {
	return &RedisActivityRecorder{rdb: rdb}
}

func activityKey(userId string) string {
	return keyPrefix + userId
}

func (rr *RedisActivityRecorder) RecordActivity(ctx context.Context, userId string, online bool, at time.Time) error {
	key := activityKey(userId)

	pipe := rr.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		fieldOnline, strconv.FormatBool(online),
		fieldActiveAt, at.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, activityTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis exec: %w", err)
	}

	return nil
}

func (rr *RedisActivityRecorder) LastActive(ctx context.Context, userId string) (time.Time, bool, error) {
	vals, err := rr.rdb.HGetAll(ctx, activityKey(userId)).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis hgetall: %w", err)
	}

	raw, ok := vals[fieldActiveAt]
	if !ok {
		return time.Time{}, false, nil
	}

	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last active: %w", err)
	}

	return at, true, nil
}
