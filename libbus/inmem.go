package libbus

import (
	"context"
	"sync"
)

// InMem is a process-local Messenger with the same at-most-once delivery as
// the NATS one.
type InMem struct {
	mu     sync.RWMutex
	closed bool
	subs   map[string]map[*inmemSubscription]struct{}
}

func NewInMem() *InMem {
	return &InMem{subs: make(map[string]map[*inmemSubscription]struct{})}
}

func (b *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrConnectionClosed
	}
	for sub := range b.subs[subject] {
		deliver(sub.ch, data, subject)
	}
	return nil
}

func (b *InMem) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrConnectionClosed
	}
	sub := &inmemSubscription{bus: b, subject: subject, ch: ch}
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*inmemSubscription]struct{})
	}
	b.subs[subject][sub] = struct{}{}
	context.AfterFunc(ctx, func() { _ = sub.Unsubscribe() })
	return sub, nil
}

// Close drops every subscription. Later calls fail with ErrConnectionClosed.
func (b *InMem) Close() error {
	b.mu.Lock()
	b.closed = true
	clear(b.subs)
	b.mu.Unlock()
	return nil
}

func (b *InMem) subscriberCount(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[subject])
}

type inmemSubscription struct {
	bus     *InMem
	subject string
	ch      chan<- []byte
}

func (s *inmemSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	set := s.bus.subs[s.subject]
	delete(set, s)
	if len(set) == 0 {
		delete(s.bus.subs, s.subject)
	}
	return nil
}

var _ Messenger = (*InMem)(nil)
