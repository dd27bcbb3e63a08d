// Package presence implements heartbeat-based online detection.
//
// A client that is active writes a heartbeat for its identity every Interval.
// Nothing ever marks an identity offline: every reader compares the stored
// last-seen instant with its own clock and treats anything older than
// Threshold as offline. Clients sharing an identity share one slot, and the
// most recent writer wins.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medstay/inbox/conversationid"
	"github.com/medstay/inbox/libkvstore"
)

const (
	keyPrefix = "presence:"
	indexKey  = "presence:index"

	DefaultInterval     = 10 * time.Second
	DefaultThreshold    = 25 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

var ErrInvalidConfig = errors.New("presence: invalid config")

type Config struct {
	// Interval is how often an active client refreshes its heartbeat.
	Interval time.Duration `json:"interval"`
	// Threshold is the age after which a heartbeat no longer counts as online.
	Threshold time.Duration `json:"threshold"`
	// WriteTimeout bounds a single heartbeat write.
	WriteTimeout time.Duration `json:"writeTimeout"`
}

func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		Threshold:    DefaultThreshold,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate requires the refresh interval to stay below half the threshold so a
// late tick cannot make an active client flicker offline.
func (c Config) Validate() error {
	if c.Interval <= 0 || c.Threshold <= 0 {
		return fmt.Errorf("%w: interval and threshold must be positive", ErrInvalidConfig)
	}
	if c.Interval >= c.Threshold/2 {
		return fmt.Errorf("%w: interval %s must be below half of threshold %s", ErrInvalidConfig, c.Interval, c.Threshold)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative write timeout", ErrInvalidConfig)
	}
	return nil
}

// Heartbeat is the stored value of one presence slot.
type Heartbeat struct {
	Identity string    `json:"identity"`
	LastSeen time.Time `json:"lastSeen"`
}

// OnlineSet maps each online identity to its last heartbeat.
type OnlineSet map[string]time.Time

func (s OnlineSet) Contains(identity string) bool {
	_, ok := s[identity]
	return ok
}

type Service interface {
	// Beat records that identity is active now.
	Beat(ctx context.Context, identity string) (Heartbeat, error)
	// Leave removes the heartbeat of identity. Expiry makes the identity
	// offline anyway, so callers may ignore its error.
	Leave(ctx context.Context, identity string) error
	// LastSeen reports the last heartbeat of identity, if any is stored.
	LastSeen(ctx context.Context, identity string) (time.Time, bool, error)
	IsOnline(ctx context.Context, identity string) (bool, error)
	OnlineSet(ctx context.Context) (OnlineSet, error)
	Config() Config
}

type Option func(*service)

// WithClock replaces the wall clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

type service struct {
	kv  libkvstore.KVManager
	cfg Config
	now func() time.Time
}

func New(kv libkvstore.KVManager, cfg Config, opts ...Option) (Service, error) {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &service{kv: kv, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Config() Config { return s.cfg }

func (s *service) online(lastSeen time.Time) bool {
	return s.now().Sub(lastSeen) <= s.cfg.Threshold
}

func (s *service) Beat(ctx context.Context, identity string) (Heartbeat, error) {
	if err := conversationid.ValidateIdentity(identity); err != nil {
		return Heartbeat{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	hb := Heartbeat{Identity: identity, LastSeen: s.now().UTC()}
	value, err := json.Marshal(hb)
	if err != nil {
		return Heartbeat{}, err
	}
	exec, err := s.kv.Executor(ctx)
	if err != nil {
		return Heartbeat{}, fmt.Errorf("presence: %w", err)
	}
	// The TTL only reclaims abandoned slots; liveness is decided by Threshold.
	if err := exec.SetWithTTL(ctx, keyPrefix+identity, value, 3*s.cfg.Threshold); err != nil {
		return Heartbeat{}, fmt.Errorf("presence: write heartbeat: %w", err)
	}
	if err := exec.SetAdd(ctx, indexKey, identity); err != nil {
		return Heartbeat{}, fmt.Errorf("presence: index heartbeat: %w", err)
	}
	return hb, nil
}

func (s *service) Leave(ctx context.Context, identity string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	exec, err := s.kv.Executor(ctx)
	if err != nil {
		return fmt.Errorf("presence: %w", err)
	}
	if err := exec.Delete(ctx, keyPrefix+identity); err != nil {
		return fmt.Errorf("presence: remove heartbeat: %w", err)
	}
	if err := exec.SetRemove(ctx, indexKey, identity); err != nil {
		return fmt.Errorf("presence: unindex heartbeat: %w", err)
	}
	return nil
}

func (s *service) read(ctx context.Context, exec libkvstore.KVExecutor, identity string) (Heartbeat, bool, error) {
	raw, err := exec.Get(ctx, keyPrefix+identity)
	if errors.Is(err, libkvstore.ErrNotFound) {
		return Heartbeat{}, false, nil
	}
	if err != nil {
		return Heartbeat{}, false, fmt.Errorf("presence: read heartbeat: %w", err)
	}
	var hb Heartbeat
	if err := json.Unmarshal(raw, &hb); err != nil {
		slog.WarnContext(ctx, "presence: ignoring undecodable heartbeat", "identity", identity, "degraded", true, "error", err)
		return Heartbeat{}, false, nil
	}
	return hb, true, nil
}

func (s *service) LastSeen(ctx context.Context, identity string) (time.Time, bool, error) {
	exec, err := s.kv.Executor(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("presence: %w", err)
	}
	hb, ok, err := s.read(ctx, exec, identity)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return hb.LastSeen, true, nil
}

func (s *service) IsOnline(ctx context.Context, identity string) (bool, error) {
	lastSeen, ok, err := s.LastSeen(ctx, identity)
	if err != nil || !ok {
		return false, err
	}
	return s.online(lastSeen), nil
}

func (s *service) OnlineSet(ctx context.Context) (OnlineSet, error) {
	exec, err := s.kv.Executor(ctx)
	if err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}
	members, err := exec.SetMembers(ctx, indexKey)
	if err != nil {
		return nil, fmt.Errorf("presence: list heartbeats: %w", err)
	}
	set := OnlineSet{}
	var gone []string
	for _, identity := range members {
		hb, ok, err := s.read(ctx, exec, identity)
		if err != nil {
			return nil, err
		}
		if !ok {
			gone = append(gone, identity)
			continue
		}
		if s.online(hb.LastSeen) {
			set[identity] = hb.LastSeen
		}
	}
	if len(gone) == 0 {
		return set, nil
	}
	if err := exec.SetRemove(ctx, indexKey, gone...); err != nil {
		slog.DebugContext(ctx, "presence: failed to prune index", "error", err)
	}
	// Beat writes the slot before indexing it, so a slot present after the
	// prune belongs to a beat that raced it and must stay indexed.
	for _, identity := range gone {
		hb, ok, err := s.read(ctx, exec, identity)
		if err != nil || !ok {
			continue
		}
		if err := exec.SetAdd(ctx, indexKey, identity); err != nil {
			slog.DebugContext(ctx, "presence: failed to restore index entry", "identity", identity, "error", err)
		}
		if s.online(hb.LastSeen) {
			set[identity] = hb.LastSeen
		}
	}
	return set, nil
}
