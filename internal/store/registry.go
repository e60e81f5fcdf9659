package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Factory builds a Store from the process's resolved configuration values.
// Registered factories are looked up by the short identifier named in
// spec.md §9 ("memory", "database", or an externally registered name) so no
// runtime code loading is required for the built-in set.
type Factory func(ctx context.Context, opts Options) (Store, error)

// Options carries every field a built-in or externally registered factory
// might need. Unused fields are simply ignored by a given backend.
type Options struct {
	DatabaseURL   string
	DatabaseTable string
	RedisClient   *redis.Client
	RedisHashKey  string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func init() {
	Register("memory", func(_ context.Context, _ Options) (Store, error) {
		return NewMemory(), nil
	})
	Register("database", func(ctx context.Context, opts Options) (Store, error) {
		return NewSQL(ctx, SQLConfig{DSN: opts.DatabaseURL, Table: opts.DatabaseTable})
	})
	Register("redis", func(_ context.Context, opts Options) (Store, error) {
		if opts.RedisClient == nil {
			return nil, fmt.Errorf("store: redis backend requires a configured redis client")
		}
		return NewRedis(opts.RedisClient, opts.RedisHashKey), nil
	})
}

// Register adds or replaces the factory for name. Safe for concurrent use;
// intended to be called from init() by backends outside this package.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New builds a Store using the factory registered under name.
func New(ctx context.Context, name string, opts Options) (Store, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: no backend registered under %q", name)
	}
	return f(ctx, opts)
}
