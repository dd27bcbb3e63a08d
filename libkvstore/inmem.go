package libkvstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

type entry struct {
	value     json.RawMessage
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// InMem is a process-local store with the same observable behavior as the
// Valkey executor. Expired keys are dropped lazily on access.
type InMem struct {
	mu     sync.Mutex
	now    func() time.Time
	closed bool
	values map[string]entry
	sets   map[string]map[string]struct{}
}

func NewInMem() *InMem {
	return &InMem{
		now:    time.Now,
		values: make(map[string]entry),
		sets:   make(map[string]map[string]struct{}),
	}
}

// WithClock replaces the clock used for expiry. Intended for tests.
func (m *InMem) WithClock(now func() time.Time) *InMem {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

func (m *InMem) Executor(ctx context.Context) (KVExecutor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m, nil
}

func (m *InMem) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *InMem) Set(ctx context.Context, key string, value json.RawMessage) error {
	return m.SetWithTTL(ctx, key, value, 0)
}

func (m *InMem) SetWithTTL(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.values[key] = e
	return nil
}

func (m *InMem) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(e.value), nil
}

func (m *InMem) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *InMem) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.values, key)
	delete(m.sets, key)
	m.mu.Unlock()
	return nil
}

func (m *InMem) SetAdd(ctx context.Context, key string, members ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *InMem) SetRemove(ctx context.Context, key string, members ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[key]
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *InMem) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	slices.Sort(out)
	return out, nil
}

// lookup must be called with mu held.
func (m *InMem) lookup(key string) (entry, bool) {
	e, ok := m.values[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(m.now()) {
		delete(m.values, key)
		return entry{}, false
	}
	return e, true
}

var (
	_ KVManager  = (*InMem)(nil)
	_ KVExecutor = (*InMem)(nil)
)
