// Package libkvstore is a small key-value abstraction over Valkey with an
// in-process fallback. Values are opaque JSON documents.
package libkvstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("libkvstore: key not found")
	ErrClosed    = errors.New("libkvstore: store closed")
	ErrBadConfig = errors.New("libkvstore: invalid configuration")
)

type Config struct {
	KVAddr     string
	KVPassword string
}

// KVManager owns the connection and hands out executors bound to it.
type KVManager interface {
	Executor(ctx context.Context) (KVExecutor, error)
	Close() error
}

// KVExecutor is the set of operations callers may run against the store.
type KVExecutor interface {
	Set(ctx context.Context, key string, value json.RawMessage) error
	// SetWithTTL stores value and expires it after ttl.
	SetWithTTL(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error

	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
}
