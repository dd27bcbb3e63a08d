package libdbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// translator maps a driver error onto the package sentinels.
type translator func(error) error

// manager is the DBManager shared by both drivers; only open and translate differ.
type manager struct {
	driver    string
	db        *sql.DB
	translate translator
}

// open connects with driver, runs the setup statements in order and returns the manager.
// Setup statements are expected to be idempotent.
func open(ctx context.Context, driver, dsn string, translate translator, configure func(*sql.DB), setup ...string) (*manager, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", driver, translate(err))
	}
	if configure != nil {
		configure(db)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", driver, translate(err))
	}
	for _, stmt := range setup {
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: setup: %w", driver, translate(err))
		}
	}
	return &manager{driver: driver, db: db, translate: translate}, nil
}

func (m *manager) WithoutTransaction() Exec {
	return &executor{q: m.db, translate: m.translate}
}

func (m *manager) WithTransaction(ctx context.Context, onRollback ...func()) (Exec, CommitTx, ReleaseTx, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		noop := func() error { return nil }
		return nil, nil, noop, fmt.Errorf("%w: begin: %w", ErrTxFailed, m.translate(err))
	}
	t := &txState{tx: tx, translate: m.translate, onRollback: onRollback}
	return &executor{q: tx, translate: m.translate}, t.commit, t.release, nil
}

func (m *manager) Close() error {
	if m.db == nil {
		return nil
	}
	slog.Debug("closing connection pool", "driver", m.driver)
	return m.db.Close()
}

type txState struct {
	tx         *sql.Tx
	translate  translator
	onRollback []func()
	committed  bool
}

func (t *txState) commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTxFailed, err)
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTxFailed, t.translate(err))
	}
	t.committed = true
	return nil
}

// release rolls back and fires the rollback hooks, unless commit succeeded.
func (t *txState) release() error {
	err := t.tx.Rollback()
	if !t.committed {
		for _, hook := range t.onRollback {
			if hook != nil {
				hook()
			}
		}
	}
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: rollback: %w", ErrTxFailed, t.translate(err))
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type executor struct {
	q         querier
	translate translator
}

func (e *executor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, e.translate(err)
	}
	return res, nil
}

func (e *executor) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, e.translate(err)
	}
	return rows, nil
}

func (e *executor) QueryRowContext(ctx context.Context, query string, args ...any) QueryRower {
	return translatedRow{row: e.q.QueryRowContext(ctx, query, args...), translate: e.translate}
}

type translatedRow struct {
	row       *sql.Row
	translate translator
}

func (r translatedRow) Scan(dest ...any) error {
	return r.translate(r.row.Scan(dest...))
}

// translateContext handles the errors every driver reports the same way and
// returns nil when err is driver specific.
func translateContext(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrQueryCanceled, err)
	}
	return nil
}
