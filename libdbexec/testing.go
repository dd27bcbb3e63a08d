package libdbexec

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgresImage = "postgres:17-alpine"

// SetupLocalInstance starts a throwaway Postgres server and returns its DSN.
// The returned cleanup stops the container and is safe to call on error.
func SetupLocalInstance(ctx context.Context, dbName, dbUser, dbPassword string) (string, testcontainers.Container, func(), error) {
	// Postgres logs readiness twice: once for the init run, once for the real server.
	ready := wait.ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(30 * time.Second)

	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(ready),
	)
	if err != nil {
		return "", nil, func() {}, fmt.Errorf("failed to start postgres container: %w", err)
	}
	cleanup := func() {
		timeout := time.Second
		_ = container.Stop(context.Background(), &timeout)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", container, cleanup, fmt.Errorf("failed to get postgres dsn: %w", err)
	}
	return dsn, container, cleanup, nil
}
