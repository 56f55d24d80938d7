package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
)

type redisStore struct {
	rdb *goredis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewRedisStore keeps each record under its own key. A positive ttl lets
// orphaned envelopes expire if nothing archives them.
func NewRedisStore(rdb *goredis.Client, ttl time.Duration, log *logger.Logger) (Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &redisStore{rdb: rdb, ttl: ttl, log: log.With("store", "RedisKV")}, nil
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (r *redisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *redisStore) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *redisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := r.rdb.Scan(ctx, 0, prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	return out, nil
}
