package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/config"
	autoreplyErrors "github.com/xandylearning/zulip-sub000/internal/errors"
)

// Store is a TTL keyed cache. Entries are advisory: a miss or a backend
// failure is reported as found=false and callers recompute.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
}

// Pruner is implemented by backends that expire entries lazily.
type Pruner interface {
	Prune(ctx context.Context) int
}

// Closer is implemented by backends holding external resources.
type Closer interface {
	Close() error
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		if cfg.Path == "" {
			return nil, autoreplyErrors.Configuration("cache.path is required for the file backend")
		}
		return NewFileStore(cfg.Path)
	case "redis":
		return NewRedisStore(cfg.Redis), nil
	default:
		return nil, autoreplyErrors.Configuration(fmt.Sprintf("unknown cache backend %q", cfg.Backend))
	}
}

// GetJSON decodes the cached value at key into T.
// A value that no longer decodes is invalidated and reported as a miss.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool) {
	var out T
	raw, ok := s.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("Dropping undecodable cache entry", "key", key, "error", err)
		s.Invalidate(ctx, key)
		var zero T
		return zero, false
	}
	return out, true
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Skipping cache write", "key", key, "error", err)
		return
	}
	s.Set(ctx, key, raw, ttl)
}
