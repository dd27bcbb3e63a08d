package libdbexec

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// NewSQLiteDBManager opens, creating if needed, the SQLite file at path and applies schema.
// The pool holds one connection so concurrent writers queue instead of failing
// with SQLITE_BUSY. Do not call WithoutTransaction while a transaction from the
// same manager is open.
func NewSQLiteDBManager(ctx context.Context, path string, schema string) (DBManager, error) {
	if err := mkParentDir(path); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	single := func(db *sql.DB) { db.SetMaxOpenConns(1) }
	return open(ctx, "sqlite", path, translateSQLite, single, "PRAGMA foreign_keys = ON", schema)
}

// The driver reports constraint failures only through the message text.
var sqliteSentinels = []struct {
	fragment string
	err      error
}{
	{"UNIQUE constraint", ErrUniqueViolation},
	{"FOREIGN KEY constraint", ErrForeignKeyViolation},
	{"NOT NULL constraint", ErrNotNullViolation},
	{"CHECK constraint", ErrCheckViolation},
	{"no such table", ErrUndefinedTable},
	{"database is locked", ErrLockNotAvailable},
}

func translateSQLite(err error) error {
	if err == nil {
		return nil
	}
	if translated := translateContext(err); translated != nil {
		return translated
	}
	msg := err.Error()
	for _, s := range sqliteSentinels {
		if strings.Contains(msg, s.fragment) {
			return fmt.Errorf("%w: %s", s.err, msg)
		}
	}
	return fmt.Errorf("libdb: sqlite: %w", err)
}

func mkParentDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file::memory") {
		return nil
	}
	path = strings.TrimPrefix(path, "file:")
	path, _, _ = strings.Cut(path, "?")
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
