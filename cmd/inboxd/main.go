package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	libbus "github.com/medstay/inbox/libbus"
	libdb "github.com/medstay/inbox/libdbexec"
	"github.com/medstay/inbox/libkvstore"
	libroutine "github.com/medstay/inbox/libroutine"
	"github.com/medstay/inbox/messagestore"
	"github.com/medstay/inbox/serverapi"
	"github.com/medstay/inbox/userdirectory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var nodeInstanceID = "NODE-Instance-UNSET-dev"

// initDatabase opens Postgres for postgres:// URLs and treats anything else as a SQLite file path.
func initDatabase(ctx context.Context, cfg *serverapi.Config) (libdb.DBManager, error) {
	dbURL := cfg.DatabaseURL
	if dbURL == "" {
		dbURL = "inbox.db"
	}
	var dbInstance libdb.DBManager
	err := libroutine.NewRoutine(10, time.Minute).ExecuteWithRetry(ctx, time.Second, 3, func(ctx context.Context) error {
		var err error
		if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
			dbInstance, err = libdb.NewPostgresDBManager(ctx, dbURL, messagestore.Schema)
		} else {
			dbInstance, err = libdb.NewSQLiteDBManager(ctx, dbURL, messagestore.SchemaSQLite)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return dbInstance, nil
}

func initPubSub(ctx context.Context, cfg *serverapi.Config) (libbus.Messenger, error) {
	if cfg.NATSURL == "" {
		slog.Warn("NATS_URL not set, change events stay within this process")
		return libbus.NewInMem(), nil
	}
	ps, err := libbus.NewPubSub(ctx, &libbus.Config{
		NATSURL:      cfg.NATSURL,
		NATSPassword: cfg.NATSPassword,
		NATSUser:     cfg.NATSUser,
	})
	if err != nil {
		return nil, err
	}
	return ps, nil
}

func initKV(cfg *serverapi.Config) (libkvstore.KVManager, error) {
	if cfg.KVAddr == "" {
		slog.Warn("KV_ADDR not set, presence is tracked in memory")
		return libkvstore.NewInMem(), nil
	}
	return libkvstore.NewManager(libkvstore.Config{
		KVAddr:     cfg.KVAddr,
		KVPassword: cfg.KVPassword,
	}, 5*time.Second)
}

func initDirectory(cfg *serverapi.Config) (userdirectory.Directory, error) {
	if cfg.DirectoryFile == "" {
		return userdirectory.NewStatic(), nil
	}
	return userdirectory.LoadFile(cfg.DirectoryFile)
}

func main() {
	nodeInstanceID = uuid.NewString()[0:8]
	config := &serverapi.Config{}
	if err := serverapi.LoadConfig(config); err != nil {
		log.Fatalf("%s: failed to load configuration: %v", nodeInstanceID, err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanups := []func() error{}
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](); err != nil {
				log.Printf("%s cleanup failed: %v", nodeInstanceID, err)
			}
		}
	}()

	dbInstance, err := initDatabase(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing database failed: %v", nodeInstanceID, err)
	}
	cleanups = append(cleanups, dbInstance.Close)

	ps, err := initPubSub(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing PubSub failed: %v", nodeInstanceID, err)
	}
	cleanups = append(cleanups, ps.Close)

	kvManager, err := initKV(config)
	if err != nil {
		log.Fatalf("%s initializing KV store failed: %v", nodeInstanceID, err)
	}
	cleanups = append(cleanups, kvManager.Close)

	directory, err := initDirectory(config)
	if err != nil {
		log.Fatalf("%s loading user directory failed: %v", nodeInstanceID, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	internalMux := http.NewServeMux()
	cleanup, err := serverapi.New(ctx, internalMux, nodeInstanceID, config, dbInstance, ps, kvManager, directory, registry)
	cleanups = append(cleanups, cleanup)
	if err != nil {
		log.Fatalf("%s initializing API handler failed: %v", nodeInstanceID, err)
	}
	if config.TokenSecret == "" {
		slog.Warn("TOKEN_SECRET not set, trusting the X-Inbox-Identity header")
	}
	apiHandler := serverapi.Middleware(config, internalMux)

	port := config.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              config.Addr + ":" + port,
		Handler:           apiHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("%s shutdown failed: %v", nodeInstanceID, err)
		}
	}()
	log.Printf("%s starting server on :%s", nodeInstanceID, port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("%s server failed: %v", nodeInstanceID, err)
	}
}
