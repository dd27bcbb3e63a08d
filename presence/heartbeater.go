package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medstay/inbox/libroutine"
	"github.com/medstay/inbox/libtracker"
)

// Heartbeater keeps one identity online while it runs. Beats go through a
// keyed libroutine loop, so a process beats at most once per interval for an
// identity and stops hammering an unreachable store once the breaker opens.
type Heartbeater struct {
	svc      Service
	identity string
	group    *libroutine.Group

	mu     sync.Mutex
	cancel context.CancelFunc
}

type HeartbeaterOption func(*Heartbeater)

// WithGroup runs the loop in group instead of the process-wide one.
func WithGroup(group *libroutine.Group) HeartbeaterOption {
	return func(h *Heartbeater) { h.group = group }
}

func NewHeartbeater(svc Service, identity string, opts ...HeartbeaterOption) *Heartbeater {
	h := &Heartbeater{svc: svc, identity: identity, group: libroutine.GetGroup()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Heartbeater) key() string { return "presence-heartbeat:" + h.identity }

// Start begins beating in the background. It beats immediately.
func (h *Heartbeater) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	cfg := h.svc.Config()
	h.group.StartLoop(ctx, &libroutine.LoopConfig{
		Key:          h.key(),
		Threshold:    3,
		ResetTimeout: cfg.Interval,
		Interval:     cfg.Interval,
		Operation: func(ctx context.Context) error {
			_, err := h.svc.Beat(ctx, h.identity)
			return err
		},
		ErrHandler: func(err error) {
			slog.Warn("presence: heartbeat failed", "identity", h.identity, "error", err)
		},
	})
}

// Resume beats right away, as a client does when it becomes visible again.
func (h *Heartbeater) Resume() {
	h.group.ForceUpdate(h.key())
}

// Running reports whether the beat loop is active.
func (h *Heartbeater) Running() bool {
	return h.group.IsLoopActive(h.key())
}

// Stop ends the loop and removes the heartbeat. Removal failures are logged only.
func (h *Heartbeater) Stop(ctx context.Context) {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	// Let an in-flight beat finish so it cannot land after Leave.
	for deadline := time.Now().Add(time.Second); h.Running() && time.Now().Before(deadline); {
		time.Sleep(5 * time.Millisecond)
	}

	leaveCtx, done := context.WithTimeout(libtracker.CopyTrackingValues(ctx, context.Background()), 2*time.Second)
	defer done()
	if err := h.svc.Leave(leaveCtx, h.identity); err != nil {
		slog.Warn("presence: leave failed, heartbeat will expire", "identity", h.identity, "error", err)
	}
}
