package inboxservice

import (
	"sync"
	"time"
)

// Clock stamps messages and read cursors.
type Clock interface {
	Now() time.Time
}

type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewMonotonicClock wraps now so that successive readings are UTC, truncated to
// microseconds (the storage resolution) and strictly increasing.
func NewMonotonicClock(now func() time.Time) Clock {
	if now == nil {
		now = time.Now
	}
	return &monotonicClock{now: now}
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
