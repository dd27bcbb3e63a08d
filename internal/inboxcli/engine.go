// engine.go wires the inbox services for one CLI invocation.
package inboxcli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/medstay/inbox/inboxservice"
	libbus "github.com/medstay/inbox/libbus"
	libdb "github.com/medstay/inbox/libdbexec"
	"github.com/medstay/inbox/libkvstore"
	"github.com/medstay/inbox/libtracker"
	"github.com/medstay/inbox/messagestore"
	"github.com/medstay/inbox/presence"
	"github.com/medstay/inbox/userdirectory"
)

type engine struct {
	cfg      localConfig
	db       libdb.DBManager
	bus      libbus.Messenger
	kv       libkvstore.KVManager
	presence presence.Service
	inbox    inboxservice.Service
}

// openEngine opens SQLite at cfg.DB and, when configured, NATS and Valkey. Without
// them events and presence stay inside this process.
func openEngine(ctx context.Context, cfg localConfig) (*engine, error) {
	e := &engine{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	dbPathAbs, err := filepath.Abs(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPathAbs), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory: %w", err)
	}
	if e.db, err = libdb.NewSQLiteDBManager(ctx, dbPathAbs, messagestore.SchemaSQLite); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.NATSURL != "" {
		if e.bus, err = libbus.NewPubSub(ctx, &libbus.Config{NATSURL: cfg.NATSURL}); err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
	} else {
		e.bus = libbus.NewInMem()
	}

	if cfg.KVAddr != "" {
		if e.kv, err = libkvstore.NewManager(libkvstore.Config{KVAddr: cfg.KVAddr, KVPassword: cfg.KVPassword}, 5*time.Second); err != nil {
			return nil, fmt.Errorf("failed to connect to KV store: %w", err)
		}
	} else {
		e.kv = libkvstore.NewInMem()
	}

	if e.presence, err = presence.New(e.kv, presence.DefaultConfig()); err != nil {
		return nil, err
	}

	directory := userdirectory.NewStatic()
	if cfg.Directory != "" {
		if directory, err = userdirectory.LoadFile(cfg.Directory); err != nil {
			return nil, err
		}
	}
	loc, err := cfg.location()
	if err != nil {
		return nil, err
	}

	var tracker libtracker.ActivityTracker = libtracker.NoopTracker{}
	if cfg.Trace {
		tracker = libtracker.NewLogActivityTracker(slog.Default())
	}
	e.inbox = inboxservice.New(e.db, e.bus, e.presence, directory, inboxservice.Config{Location: loc})
	e.inbox = inboxservice.WithActivityTracker(e.inbox, tracker)
	ok = true
	return e, nil
}

func (e *engine) Close() {
	if e.bus != nil {
		if err := e.bus.Close(); err != nil {
			slog.Error("Error closing bus", "error", err)
		}
	}
	if e.kv != nil {
		if err := e.kv.Close(); err != nil {
			slog.Error("Error closing KV store", "error", err)
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}
}
