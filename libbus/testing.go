package libbus

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
)

const natsImage = "nats:2.11-alpine"

// SetupNatsInstance starts a throwaway NATS server and returns its client URL.
// The returned cleanup stops the container and is safe to call on error.
func SetupNatsInstance(ctx context.Context) (string, testcontainers.Container, func(), error) {
	container, err := tcnats.Run(ctx, natsImage)
	if err != nil {
		return "", nil, func() {}, fmt.Errorf("failed to start nats container: %w", err)
	}
	cleanup := func() {
		timeout := time.Second
		_ = container.Stop(context.Background(), &timeout)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		return "", container, cleanup, fmt.Errorf("failed to get nats url: %w", err)
	}
	return url, container, cleanup, nil
}

// NewTestPubSub connects a Messenger to a fresh NATS container. The cleanup
// closes the connection before stopping the container.
func NewTestPubSub() (Messenger, func(), error) {
	ctx := context.Background()
	url, _, stop, err := SetupNatsInstance(ctx)
	if err != nil {
		return nil, stop, err
	}
	bus, err := NewPubSub(ctx, &Config{NATSURL: url})
	if err != nil {
		return nil, stop, err
	}
	return bus, func() {
		_ = bus.Close()
		stop()
	}, nil
}
