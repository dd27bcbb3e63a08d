// Package libtracker records service activity. Each operation is started with
// Start and reports at most one error, any number of changes, and its end.
package libtracker

import (
	"context"
	"log/slog"
	"time"
)

// ActivityTracker observes operations. kvArgs are alternating key/value pairs
// in the style of slog.
type ActivityTracker interface {
	Start(ctx context.Context, operation string, subject string, kvArgs ...any) (reportErr func(err error), reportChange func(id string, data any), end func())
}

type NoopTracker struct{}

func (NoopTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	return func(error) {}, func(string, any) {}, func() {}
}

// ChainedTracker fans every call out to each tracker in order.
type ChainedTracker []ActivityTracker

func (c ChainedTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	errFns := make([]func(error), 0, len(c))
	changeFns := make([]func(string, any), 0, len(c))
	endFns := make([]func(), 0, len(c))
	for _, t := range c {
		e, ch, end := t.Start(ctx, operation, subject, kvArgs...)
		errFns = append(errFns, e)
		changeFns = append(changeFns, ch)
		endFns = append(endFns, end)
	}
	return func(err error) {
			for _, f := range errFns {
				f(err)
			}
		}, func(id string, data any) {
			for _, f := range changeFns {
				f(id, data)
			}
		}, func() {
			for i := len(endFns) - 1; i >= 0; i-- {
				endFns[i]()
			}
		}
}

type logActivityTracker struct {
	logger *slog.Logger
}

// NewLogActivityTracker logs operation failures and changes at Info/Error and
// completions at Debug.
func NewLogActivityTracker(logger *slog.Logger) ActivityTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &logActivityTracker{logger: logger}
}

func (t *logActivityTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	start := time.Now()
	attrs := []any{"operation", operation, "subject", subject}
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if identity := Identity(ctx); identity != "" {
		attrs = append(attrs, "identity", identity)
	}
	attrs = append(attrs, kvArgs...)
	logger := t.logger.With(attrs...)

	failed := false
	return func(err error) {
			if err == nil {
				return
			}
			failed = true
			logger.ErrorContext(ctx, "operation failed", "error", err)
		}, func(id string, data any) {
			logger.InfoContext(ctx, "entity changed", "entity_id", id, "data", data)
		}, func() {
			logger.DebugContext(ctx, "operation finished", "duration", time.Since(start), "failed", failed)
		}
}

var (
	_ ActivityTracker = NoopTracker{}
	_ ActivityTracker = ChainedTracker{}
)
