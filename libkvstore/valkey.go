package libkvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

type valkeyManager struct {
	client  valkey.Client
	timeout time.Duration
}

// NewManager connects to the Valkey server at cfg.KVAddr. timeout bounds every
// command whose context has no earlier deadline.
func NewManager(cfg Config, timeout time.Duration) (KVManager, error) {
	if cfg.KVAddr == "" {
		return nil, fmt.Errorf("%w: KVAddr is required", ErrBadConfig)
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{cfg.KVAddr},
		Password:     cfg.KVPassword,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("libkvstore: failed to connect to valkey: %w", err)
	}
	return &valkeyManager{client: client, timeout: timeout}, nil
}

func (m *valkeyManager) Executor(ctx context.Context) (KVExecutor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &valkeyExecutor{client: m.client, timeout: m.timeout}, nil
}

func (m *valkeyManager) Close() error {
	m.client.Close()
	return nil
}

type valkeyExecutor struct {
	client  valkey.Client
	timeout time.Duration
}

func (e *valkeyExecutor) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *valkeyExecutor) Set(ctx context.Context, key string, value json.RawMessage) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	cmd := e.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()
	if err := e.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("libkvstore: set %s: %w", key, err)
	}
	return nil
}

func (e *valkeyExecutor) SetWithTTL(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		return e.Set(ctx, key, value)
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	cmd := e.client.B().Set().Key(key).Value(valkey.BinaryString(value)).PxMilliseconds(ttl.Milliseconds()).Build()
	if err := e.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("libkvstore: set %s with ttl: %w", key, err)
	}
	return nil
}

func (e *valkeyExecutor) Get(ctx context.Context, key string) (json.RawMessage, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	b, err := e.client.Do(ctx, e.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("libkvstore: get %s: %w", key, err)
	}
	return json.RawMessage(b), nil
}

func (e *valkeyExecutor) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	n, err := e.client.Do(ctx, e.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("libkvstore: exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (e *valkeyExecutor) Delete(ctx context.Context, key string) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.client.Do(ctx, e.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("libkvstore: delete %s: %w", key, err)
	}
	return nil
}

func (e *valkeyExecutor) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.client.Do(ctx, e.client.B().Sadd().Key(key).Member(members...).Build()).Error(); err != nil {
		return fmt.Errorf("libkvstore: sadd %s: %w", key, err)
	}
	return nil
}

func (e *valkeyExecutor) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.client.Do(ctx, e.client.B().Srem().Key(key).Member(members...).Build()).Error(); err != nil {
		return fmt.Errorf("libkvstore: srem %s: %w", key, err)
	}
	return nil
}

func (e *valkeyExecutor) SetMembers(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	members, err := e.client.Do(ctx, e.client.B().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("libkvstore: smembers %s: %w", key, err)
	}
	return members, nil
}

var _ KVExecutor = (*valkeyExecutor)(nil)
