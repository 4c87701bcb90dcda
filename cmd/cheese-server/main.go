// Package main is the entry point for the cheese clicker server.
// It only handles dependency injection and server lifecycle.
// NO business logic belongs here.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MRamiBalles/CheeseClicker/server/internal/api"
	"github.com/MRamiBalles/CheeseClicker/server/internal/engine"
	"github.com/MRamiBalles/CheeseClicker/server/internal/infra/cache"
	"github.com/MRamiBalles/CheeseClicker/server/internal/infra/storage"
	"github.com/MRamiBalles/CheeseClicker/server/internal/network"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/config"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/logger"
)

// shutdownTimeout bounds how long in-flight HTTP requests may finish after a signal.
const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML config overlaid on the defaults")
	dbPath := flag.String("db", "", "SQLite database path, overrides storage.path")
	dev := flag.Bool("dev", false, "Start from the development preset when no config is given")
	flag.Parse()

	log.Println("[CHEESE-SERVER] Initializing cheese clicker server...")

	cfg, err := loadConfig(*configPath, *dev)
	if err != nil {
		log.Fatalf("[CHEESE-SERVER] %v", err)
	}
	if *dbPath != "" {
		cfg.Storage.Backend = config.BackendSQLite
		cfg.Storage.Path = *dbPath
	}

	appLogger := logger.NewLogger()
	if cfg.Log.Quiet {
		appLogger = logger.NewNop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, journal, closeStorage, err := openStorage(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize storage: " + err.Error())
		os.Exit(1)
	}
	defer closeStorage()

	appLogger.Info("Bootstrapping Engine Subsystems...")
	eng, err := engine.NewEngine(engine.Options{
		Config:     cfg,
		Repository: repo,
		Journal:    journal,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error("Failed to build engine: " + err.Error())
		os.Exit(1)
	}
	if eng.Load(ctx) {
		s := eng.Ledger().Snapshot()
		appLogger.Infof("Restored slot %s at level %d", cfg.Storage.Slot, s.Level)
	}

	appLogger.Info("Bootstrapping WebSocket Hub...")
	hub := network.NewHub(eng, appLogger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(eng, hub, appLogger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		appLogger.Info("HTTP API & WS Server listening on " + cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("[CHEESE-SERVER] Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server stopped: " + err.Error())
		os.Exit(1)
	}
	log.Println("[CHEESE-SERVER] Bye.")
}

func loadConfig(path string, dev bool) (*config.Config, error) {
	if path == "" && dev {
		cfg := config.DevConfig()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// openStorage builds the save repository, the journal and an optional Redis cache in front
// of the saves. The returned func releases everything opened.
func openStorage(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) (storage.StateRepository, storage.JournalRepository, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var repo storage.StateRepository
	var journal storage.JournalRepository
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		appLogger.Info("Initializing SQLite database '" + cfg.Storage.Path + "'...")
		db, err := storage.InitSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, func() { closeDB(db, appLogger) })
		repo = storage.NewSQLiteStateRepository(db)
		journal = storage.NewSQLiteJournalRepository(db)
	default:
		appLogger.Warn("Using in-memory storage, progress is lost on exit")
		repo = storage.NewMemoryStateRepository()
		journal = storage.NewMemoryJournalRepository()
	}

	if rc := cfg.Storage.Redis; rc.Enabled {
		rdb, err := cache.Dial(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			// The cache is optional; saves still reach the primary.
			appLogger.Warnf("Redis cache disabled: %v", err)
		} else {
			appLogger.Info("Redis cache enabled at " + rc.Addr)
			closers = append(closers, func() { rdb.Close() })
			cached := storage.NewCachedRepository(repo, cache.NewStateCache(cache.NewGoRedisClient(rdb), rc.TTL))
			cached.OnCacheError = func(op string, err error) {
				appLogger.Warnf("Redis cache %s failed: %v", op, err)
			}
			repo = cached
		}
	}
	return repo, journal, closeAll, nil
}

func closeDB(db *sql.DB, appLogger *logger.Logger) {
	if err := db.Close(); err != nil {
		appLogger.Error("Failed to close database: " + err.Error())
	}
}
