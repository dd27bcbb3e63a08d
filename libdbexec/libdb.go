// Package libdbexec wraps database/sql behind a small executor interface so that
// stores can run the same statements inside or outside of a transaction, on
// Postgres or SQLite, with driver errors translated into package sentinels.
package libdbexec

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound             = errors.New("libdb: not found")
	ErrTxFailed             = errors.New("libdb: transaction failed")
	ErrQueryCanceled        = errors.New("libdb: query canceled")
	ErrUniqueViolation      = errors.New("libdb: unique constraint violation")
	ErrForeignKeyViolation  = errors.New("libdb: foreign key violation")
	ErrNotNullViolation     = errors.New("libdb: not null violation")
	ErrCheckViolation       = errors.New("libdb: check constraint violation")
	ErrConstraintViolation  = errors.New("libdb: constraint violation")
	ErrDeadlockDetected     = errors.New("libdb: deadlock detected")
	ErrSerializationFailure = errors.New("libdb: serialization failure")
	ErrLockNotAvailable     = errors.New("libdb: lock not available")
	ErrInvalidInputSyntax   = errors.New("libdb: invalid input syntax")
	ErrUndefinedTable       = errors.New("libdb: undefined table")
)

// Exec is the statement surface shared by a plain connection pool and a transaction.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) QueryRower
}

// QueryRower is the result of QueryRowContext.
type QueryRower interface {
	Scan(dest ...any) error
}

// CommitTx commits the transaction it was returned with.
type CommitTx func(ctx context.Context) error

// ReleaseTx rolls back unless already committed. Safe to defer.
type ReleaseTx func() error

// DBManager owns a connection pool.
type DBManager interface {
	WithoutTransaction() Exec
	WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error)
	Close() error
}
