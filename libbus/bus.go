// Package libbus fans inbox change events out to live subscribers.
// The NATS-backed Messenger is used when several inbox nodes share one
// broker; InMem serves local single-process mode and the unit tests.
package libbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

var ErrConnectionClosed = errors.New("libbus: connection closed")

// Subscription is returned by Stream.
type Subscription interface {
	Unsubscribe() error
}

// Messenger is fire-and-forget publish/subscribe. Delivery is at most once:
// a subscriber whose channel is full misses the message.
type Messenger interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	Close() error
}

type Config struct {
	NATSURL      string
	NATSUser     string
	NATSPassword string
}

const reconnectWait = 2 * time.Second

type natsBus struct {
	nc *nats.Conn
}

// NewPubSub connects to NATS using cfg. The connection reconnects forever;
// messages published while disconnected are buffered by the client.
func NewPubSub(ctx context.Context, cfg *Config) (Messenger, error) {
	if cfg == nil || cfg.NATSURL == "" {
		return nil, errors.New("libbus: NATS URL is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []nats.Option{
		nats.Name("inbox"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("libbus: disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("libbus: reconnected to NATS", "url", nc.ConnectedUrlRedacted())
		}),
	}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("libbus: failed to connect to NATS: %w", err)
	}
	return &natsBus{nc: nc}, nil
}

func (b *natsBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.nc.Publish(subject, data)
	switch {
	case err == nil:
		return nil
	case closedErr(err):
		return ErrConnectionClosed
	default:
		return fmt.Errorf("libbus: publish %s: %w", subject, err)
	}
}

// Stream delivers every message on subject to ch until ctx ends or the
// subscription is removed. The NATS dispatcher never blocks on ch.
func (b *natsBus) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.nc.IsClosed() || b.nc.IsDraining() {
		return nil, ErrConnectionClosed
	}
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		deliver(ch, msg.Data, subject)
	})
	if err != nil {
		if closedErr(err) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("libbus: subscribe %s: %w", subject, err)
	}
	s := &natsSubscription{sub: sub}
	context.AfterFunc(ctx, func() { _ = s.Unsubscribe() })
	return s, nil
}

func (b *natsBus) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
	}
	return nil
}

type natsSubscription struct {
	once sync.Once
	sub  *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		if closedErr(err) || errors.Is(err, nats.ErrBadSubscription) {
			err = nil
		}
	})
	return err
}

func closedErr(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrConnectionDraining)
}

// deliver hands data to ch without blocking.
func deliver(ch chan<- []byte, data []byte, subject string) {
	select {
	case ch <- data:
	default:
		slog.Warn("libbus: subscriber is slow, dropping message", "subject", subject)
	}
}

var _ Messenger = (*natsBus)(nil)
