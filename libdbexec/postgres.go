package libdbexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// NewPostgresDBManager opens a pool for dsn and applies schema when non-empty.
func NewPostgresDBManager(ctx context.Context, dsn string, schema string) (DBManager, error) {
	return open(ctx, "postgres", dsn, translatePostgres, nil, schema)
}

var pqSentinels = map[pq.ErrorCode]error{
	"23505": ErrUniqueViolation,
	"23503": ErrForeignKeyViolation,
	"23502": ErrNotNullViolation,
	"23514": ErrCheckViolation,
	"40P01": ErrDeadlockDetected,
	"40001": ErrSerializationFailure,
	"55P03": ErrLockNotAvailable,
	"57014": ErrQueryCanceled,
	"22P02": ErrInvalidInputSyntax,
	"42P01": ErrUndefinedTable,
}

// translatePostgres maps lib/pq errors to sentinels by SQLSTATE.
func translatePostgres(err error) error {
	if err == nil {
		return nil
	}
	if translated := translateContext(err); translated != nil {
		return translated
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return fmt.Errorf("libdb: postgres: %w", err)
	}
	if sentinel, ok := pqSentinels[pqErr.Code]; ok {
		return fmt.Errorf("%w: %s", sentinel, pqErr.Message)
	}
	if pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %s", ErrConstraintViolation, pqErr.Message)
	}
	return fmt.Errorf("libdb: postgres %s (%s): %w", pqErr.Code, pqErr.Code.Name(), err)
}
