package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisStore delegates expiry to redis TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	addr := cfg.Addr
	if addr == "" {
		addr = config.DefaultRedisAddr
	}
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}))
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "autoreply:"}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Redis cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	return val, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		slog.Warn("Redis cache write failed", "key", key, "error", err)
	}
}

func (s *RedisStore) Invalidate(ctx context.Context, key string) {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		slog.Warn("Redis cache delete failed", "key", key, "error", err)
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
