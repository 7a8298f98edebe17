// Package store provides durable timestamp storage keyed by string.
//
// The run-gate persists two timestamps per task identity (last success, last failure) and
// occasionally wipes every key under its namespace. Store captures exactly that surface so the
// gate can sit on top of Redis, SQLite or plain memory without knowing which.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedType is returned by Open for an unknown backend type.
var ErrUnsupportedType = errors.New("unsupported store type")

// Store is a durable key -> timestamp map.
//
// A missing key is not an error: Get reports ok=false. Implementations must be safe for
// concurrent use and should make writes visible process-wide.
type Store interface {
	Get(ctx context.Context, key string) (time.Time, bool, error)
	Set(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key starting with prefix. An empty prefix lists everything.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Type is the backend: "memory", "redis" or "sqlite".
	Type string

	// Redis
	Addr     string
	Password string
	DB       int

	// SQLite database file. ":memory:" is accepted for tests.
	Path string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type: "memory",
		Addr: "127.0.0.1:6379",
		Path: "rungate.db",
	}
}

// Open creates a Store for the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg), nil
	case "sqlite":
		return OpenSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
}

// prefixDeleter is implemented by backends that can drop a whole prefix natively.
type prefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// DeletePrefix removes every key starting with prefix and returns how many were removed.
func DeletePrefix(ctx context.Context, st Store, prefix string) (int, error) {
	if pd, ok := st.(prefixDeleter); ok {
		return pd.DeletePrefix(ctx, prefix)
	}

	keys, err := st.Keys(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}
	for i, key := range keys {
		if err := st.Delete(ctx, key); err != nil {
			return i, fmt.Errorf("delete %q: %w", key, err)
		}
	}
	return len(keys), nil
}
