package libroutine

import (
	"context"
	"sync"
	"time"
)

// LoopConfig describes one keyed background loop.
type LoopConfig struct {
	Key          string
	Threshold    int
	ResetTimeout time.Duration
	Interval     time.Duration
	Operation    func(ctx context.Context) error
	// ErrHandler receives failed iterations. Nil logs them.
	ErrHandler func(err error)
}

// Group keeps at most one running loop per key. The breaker for a key is
// created on first use and keeps its parameters for the life of the process.
type Group struct {
	mu       sync.Mutex
	managers map[string]*Routine
	triggers map[string]chan struct{}
	active   map[string]bool
}

var (
	group     *Group
	groupOnce sync.Once
)

func GetGroup() *Group {
	groupOnce.Do(func() {
		group = NewGroup()
	})
	return group
}

// NewGroup returns an isolated group. Most callers want GetGroup.
func NewGroup() *Group {
	return &Group{
		managers: make(map[string]*Routine),
		triggers: make(map[string]chan struct{}),
		active:   make(map[string]bool),
	}
}

// StartLoop starts cfg.Operation in the background unless a loop for cfg.Key is already running.
func (g *Group) StartLoop(ctx context.Context, cfg *LoopConfig) {
	g.mu.Lock()
	rm, ok := g.managers[cfg.Key]
	if !ok {
		rm = NewRoutine(cfg.Threshold, cfg.ResetTimeout)
		g.managers[cfg.Key] = rm
	}
	if g.active[cfg.Key] {
		g.mu.Unlock()
		return
	}
	trigger := make(chan struct{}, 1)
	g.triggers[cfg.Key] = trigger
	g.active[cfg.Key] = true
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.active, cfg.Key)
			delete(g.triggers, cfg.Key)
			g.mu.Unlock()
		}()
		rm.Loop(ctx, cfg.Interval, trigger, cfg.Operation, cfg.ErrHandler)
	}()
}

// ForceUpdate asks the loop for key to run now. It is a no-op when no loop runs
// or a run is already pending.
func (g *Group) ForceUpdate(key string) {
	g.mu.Lock()
	trigger, ok := g.triggers[key]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
}

func (g *Group) IsLoopActive(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[key]
}

// GetManager returns the breaker for key, or nil if none was created.
func (g *Group) GetManager(key string) *Routine {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.managers[key]
}
