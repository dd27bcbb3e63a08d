// Package libroutine runs recurring background work behind a circuit breaker.
package libroutine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("libroutine: circuit open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Routine is a circuit breaker. After threshold consecutive failures it opens
// and rejects calls until resetTimeout passes, then lets one probe call through.
type Routine struct {
	mu           sync.Mutex
	state        State
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	probing      bool
}

func NewRoutine(threshold int, resetTimeout time.Duration) *Routine {
	if threshold < 1 {
		threshold = 1
	}
	return &Routine{threshold: threshold, resetTimeout: resetTimeout}
}

// advance moves an expired Open circuit to HalfOpen. Caller holds mu.
func (r *Routine) advance() {
	if r.state == Open && time.Since(r.openedAt) >= r.resetTimeout {
		r.state = HalfOpen
		r.probing = false
	}
}

// Allow reports whether a call may proceed. In HalfOpen only the first caller is admitted.
func (r *Routine) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	switch r.state {
	case Closed:
		return true
	case HalfOpen:
		if r.probing {
			return false
		}
		r.probing = true
		return true
	}
	return false
}

func (r *Routine) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probing = false
	if err == nil {
		r.state = Closed
		r.failures = 0
		return
	}
	r.failures++
	if r.state == HalfOpen || r.failures >= r.threshold {
		r.state = Open
		r.openedAt = time.Now()
	}
}

// Execute runs fn when the circuit allows it and records the outcome.
func (r *Routine) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	r.record(err)
	return err
}

// ExecuteWithRetry calls Execute up to attempts times, sleeping interval between tries.
// An open circuit or a cancelled ctx ends the retries early.
func (r *Routine) ExecuteWithRetry(ctx context.Context, interval time.Duration, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for i := range attempts {
		err = r.Execute(ctx, fn)
		if err == nil || errors.Is(err, ErrCircuitOpen) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return err
}

// Loop runs fn once immediately, then on every tick of interval and every
// receive on trigger, until ctx is done. Failures go to errHandler.
func (r *Routine) Loop(ctx context.Context, interval time.Duration, trigger <-chan struct{}, fn func(ctx context.Context) error, errHandler func(err error)) {
	if errHandler == nil {
		errHandler = func(err error) {
			slog.Warn("libroutine: loop iteration failed", "error", err)
		}
	}
	run := func() {
		if err := r.Execute(ctx, fn); err != nil {
			errHandler(err)
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		case <-trigger:
			run()
		}
	}
}

// GetState reports the current state; an expired Open circuit reads as HalfOpen.
func (r *Routine) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	return r.state
}

func (r *Routine) ForceOpen() {
	r.mu.Lock()
	r.state = Open
	r.openedAt = time.Now()
	r.probing = false
	r.mu.Unlock()
}

func (r *Routine) ForceClose() {
	r.mu.Lock()
	r.state = Closed
	r.failures = 0
	r.probing = false
	r.mu.Unlock()
}

func (r *Routine) GetThreshold() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

func (r *Routine) GetResetTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetTimeout
}
