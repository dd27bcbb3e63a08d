package libkvstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	tcvalkey "github.com/testcontainers/testcontainers-go/modules/valkey"
)

const valkeyImage = "docker.io/valkey/valkey:8.0-alpine"

// SetupValkeyInstance starts a throwaway Valkey server and returns its host:port.
// The returned cleanup stops the container and is safe to call on error.
func SetupValkeyInstance(ctx context.Context) (string, func(), error) {
	container, err := tcvalkey.Run(ctx, valkeyImage)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to start valkey container: %w", err)
	}
	cleanup := func() {
		timeout := time.Second
		_ = container.Stop(context.Background(), &timeout)
	}

	conn, err := container.ConnectionString(ctx)
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to get valkey address: %w", err)
	}
	u, err := url.Parse(conn)
	if err != nil {
		return "", cleanup, fmt.Errorf("bad valkey connection string %q: %w", conn, err)
	}
	return u.Host, cleanup, nil
}

// NewTestManager connects a KVManager to a fresh Valkey container. The cleanup
// closes the client before stopping the container.
func NewTestManager(ctx context.Context) (KVManager, func(), error) {
	addr, stop, err := SetupValkeyInstance(ctx)
	if err != nil {
		return nil, stop, err
	}
	kv, err := NewManager(Config{KVAddr: addr}, 5*time.Second)
	if err != nil {
		return nil, stop, err
	}
	return kv, func() {
		_ = kv.Close()
		stop()
	}, nil
}
