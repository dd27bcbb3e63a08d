package playground

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/medstay/inbox/inboxservice"
	"github.com/medstay/inbox/libbus"
	"github.com/medstay/inbox/libdbexec"
	"github.com/medstay/inbox/libkvstore"
	"github.com/medstay/inbox/libroutine"
	"github.com/medstay/inbox/libtracker"
	"github.com/medstay/inbox/messagestore"
	"github.com/medstay/inbox/presence"
	"github.com/medstay/inbox/userdirectory"
)

// Playground provides a fluent API for setting up an inbox test environment.
// Errors are chained, and execution stops on the first failure.
type Playground struct {
	cleanUps        []func()
	db              libdbexec.DBManager
	bus             libbus.Messenger
	kv              libkvstore.KVManager
	directory       userdirectory.Directory
	tracker         libtracker.ActivityTracker
	presenceService presence.Service
	inboxService    inboxservice.Service
	routinesStarted bool
	Error           error
}

// New creates a new Playground instance.
func New() *Playground {
	return &Playground{}
}

// AddCleanUp adds a cleanup function to be called by CleanUp.
func (p *Playground) AddCleanUp(cleanUp func()) {
	p.cleanUps = append(p.cleanUps, cleanUp)
}

// GetError returns the first error that occurred during the setup chain.
func (p *Playground) GetError() error {
	return p.Error
}

// CleanUp runs all registered cleanup functions in reverse order of addition.
func (p *Playground) CleanUp() {
	for i := len(p.cleanUps) - 1; i >= 0; i-- {
		p.cleanUps[i]()
	}
}

// WithPostgresTestContainer starts a Postgres container and applies the inbox schema.
func (p *Playground) WithPostgresTestContainer(ctx context.Context) *Playground {
	if p.Error != nil {
		return p
	}
	connStr, _, cleanup, err := libdbexec.SetupLocalInstance(ctx, "test", "test", "test")
	if err != nil {
		p.Error = fmt.Errorf("failed to setup postgres test container: %w", err)
		return p
	}
	p.AddCleanUp(cleanup)

	dbManager, err := libdbexec.NewPostgresDBManager(ctx, connStr, messagestore.Schema)
	if err != nil {
		p.Error = fmt.Errorf("failed to create postgres db manager: %w", err)
		return p
	}
	p.AddCleanUp(func() { _ = dbManager.Close() })
	p.db = dbManager
	return p
}

// WithPostgresReal connects to an existing Postgres.
func (p *Playground) WithPostgresReal(ctx context.Context, connStr string) *Playground {
	if p.Error != nil {
		return p
	}
	dbManager, err := libdbexec.NewPostgresDBManager(ctx, connStr, messagestore.Schema)
	if err != nil {
		p.Error = fmt.Errorf("failed to create postgres db manager: %w", err)
		return p
	}
	p.db = dbManager
	// No cleanup needed for real resources - user manages lifecycle
	return p
}

// WithSQLite opens a SQLite file in dir.
func (p *Playground) WithSQLite(ctx context.Context, dir string) *Playground {
	if p.Error != nil {
		return p
	}
	dbManager, err := libdbexec.NewSQLiteDBManager(ctx, filepath.Join(dir, "inbox.db"), messagestore.SchemaSQLite)
	if err != nil {
		p.Error = fmt.Errorf("failed to create sqlite db manager: %w", err)
		return p
	}
	p.AddCleanUp(func() { _ = dbManager.Close() })
	p.db = dbManager
	return p
}

// WithNats sets up a test NATS server.
func (p *Playground) WithNats(ctx context.Context) *Playground {
	if p.Error != nil {
		return p
	}
	ps, cleanup, err := libbus.NewTestPubSub()
	if err != nil {
		p.Error = fmt.Errorf("failed to setup nats test server: %w", err)
		return p
	}
	p.AddCleanUp(cleanup)
	p.bus = ps
	return p
}

// WithNatsReal sets up a connection to a real NATS server.
func (p *Playground) WithNatsReal(ctx context.Context, natsURL, natsUser, natsPassword string) *Playground {
	if p.Error != nil {
		return p
	}
	ps, err := libbus.NewPubSub(ctx, &libbus.Config{
		NATSURL:      natsURL,
		NATSUser:     natsUser,
		NATSPassword: natsPassword,
	})
	if err != nil {
		p.Error = fmt.Errorf("failed to setup nats server: %w", err)
		return p
	}
	p.bus = ps
	return p
}

func (p *Playground) WithInMemBus() *Playground {
	if p.Error != nil {
		return p
	}
	bus := libbus.NewInMem()
	p.AddCleanUp(func() { _ = bus.Close() })
	p.bus = bus
	return p
}

// WithValkeyTestContainer starts a Valkey container for presence.
func (p *Playground) WithValkeyTestContainer(ctx context.Context) *Playground {
	if p.Error != nil {
		return p
	}
	kv, cleanup, err := libkvstore.NewTestManager(ctx)
	p.AddCleanUp(cleanup)
	if err != nil {
		p.Error = fmt.Errorf("failed to setup valkey test container: %w", err)
		return p
	}
	p.kv = kv
	return p
}

func (p *Playground) WithInMemKV() *Playground {
	if p.Error != nil {
		return p
	}
	kv := libkvstore.NewInMem()
	p.AddCleanUp(func() { _ = kv.Close() })
	p.kv = kv
	return p
}

// WithDirectory registers display metadata for the given users.
func (p *Playground) WithDirectory(users ...userdirectory.User) *Playground {
	if p.Error != nil {
		return p
	}
	p.directory = userdirectory.NewStatic(users...)
	return p
}

// WithActivityTracker sets the tracker the services report to.
func (p *Playground) WithActivityTracker(tracker libtracker.ActivityTracker) *Playground {
	if p.Error != nil {
		return p
	}
	p.tracker = tracker
	return p
}

// WithPresence builds the presence service on the configured KV store.
func (p *Playground) WithPresence(cfg presence.Config, opts ...presence.Option) *Playground {
	if p.Error != nil {
		return p
	}
	if p.kv == nil {
		p.Error = errors.New("cannot create presence service: KV store is not initialized")
		return p
	}
	svc, err := presence.New(p.kv, cfg, opts...)
	if err != nil {
		p.Error = fmt.Errorf("failed to create presence service: %w", err)
		return p
	}
	p.presenceService = svc
	return p
}

// WithInboxService builds the inbox service from the database, bus and presence service.
func (p *Playground) WithInboxService(cfg inboxservice.Config, opts ...inboxservice.Option) *Playground {
	if p.Error != nil {
		return p
	}
	switch {
	case p.db == nil:
		p.Error = errors.New("cannot create inbox service: database is not initialized")
		return p
	case p.bus == nil:
		p.Error = errors.New("cannot create inbox service: bus is not initialized")
		return p
	case p.presenceService == nil:
		p.Error = errors.New("cannot create inbox service: presence service is not initialized")
		return p
	}
	tracker := p.tracker
	if tracker == nil {
		tracker = libtracker.NoopTracker{}
	}
	svc := inboxservice.New(p.db, p.bus, p.presenceService, p.directory, cfg, opts...)
	p.inboxService = inboxservice.WithActivityTracker(svc, tracker)
	return p
}

// StartPresenceSweep prunes expired identities from the presence index every interval.
func (p *Playground) StartPresenceSweep(ctx context.Context, interval time.Duration) *Playground {
	if p.Error != nil {
		return p
	}
	if p.presenceService == nil {
		p.Error = errors.New("cannot start presence sweep: presence service is not initialized")
		return p
	}
	ctx, cancel := context.WithCancel(ctx)
	p.AddCleanUp(cancel)
	svc := p.presenceService
	libroutine.GetGroup().StartLoop(ctx, &libroutine.LoopConfig{
		Key:          "playgroundPresenceSweep",
		Threshold:    3,
		ResetTimeout: interval,
		Interval:     interval,
		Operation: func(ctx context.Context) error {
			_, err := svc.OnlineSet(ctx)
			return err
		},
	})
	p.routinesStarted = true
	return p
}

func (p *Playground) GetInboxService() (inboxservice.Service, error) {
	if p.Error != nil {
		return nil, p.Error
	}
	if p.inboxService == nil {
		return nil, errors.New("inbox service is not initialized")
	}
	return p.inboxService, nil
}

func (p *Playground) GetPresenceService() (presence.Service, error) {
	if p.Error != nil {
		return nil, p.Error
	}
	if p.presenceService == nil {
		return nil, errors.New("presence service is not initialized")
	}
	return p.presenceService, nil
}

func (p *Playground) GetDB() (libdbexec.DBManager, error) {
	if p.Error != nil {
		return nil, p.Error
	}
	if p.db == nil {
		return nil, errors.New("database is not initialized")
	}
	return p.db, nil
}
