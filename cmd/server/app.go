package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clark-Hu/movie-reviews/db"
	"github.com/Clark-Hu/movie-reviews/internal/config"
	httpserver "github.com/Clark-Hu/movie-reviews/internal/http"
	"github.com/Clark-Hu/movie-reviews/internal/logging"
	"github.com/Clark-Hu/movie-reviews/internal/metrics"
	"github.com/Clark-Hu/movie-reviews/internal/omdb"
	"github.com/Clark-Hu/movie-reviews/internal/repository"
	"github.com/Clark-Hu/movie-reviews/internal/service"
	"github.com/Clark-Hu/movie-reviews/internal/store"
)

const migrationsDir = "migrations"

// ServeCmd runs the HTTP API until SIGINT or SIGTERM.
type ServeCmd struct {
	SkipMigrate bool `help:"Do not apply pending migrations on startup."`
}

// MigrateCmd applies pending migrations, or rolls back the latest with --down.
type MigrateCmd struct {
	Down bool `help:"Roll back the most recently applied migration."`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := bootstrap(g)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if !c.SkipMigrate {
		if _, err := st.Migrate(ctx, db.Migrations, migrationsDir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	m := metrics.New()
	m.RegisterPool(st.Stats)

	provider, err := omdb.NewClient(omdb.Options{
		BaseURL:           cfg.OMDBURL,
		APIKey:            cfg.OMDBAPIKey,
		RequestsPerSecond: cfg.OMDBRequestsPerSec,
		Burst:             cfg.OMDBBurst,
		Cache:             cfg.CacheConfig(),
		Policy:            cfg.ResiliencePolicy(),
		Logger:            logger,
		Recorder:          m,
		StateObserver:     m.SetBreakerState,
	})
	if err != nil {
		return fmt.Errorf("init omdb client: %w", err)
	}

	repo := repository.New(st)
	svc := service.New(repo.Movies, provider, logger, m)
	server := httpserver.New(cfg, svc, st, m, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	var runErr error
	select {
	case runErr = <-serverErrCh:
		if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", runErr))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeoutSecs)*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("graceful shutdown error", slog.Any("error", err))
	}
	return runErr
}

func (c *MigrateCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := bootstrap(g)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if c.Down {
		name, err := st.Rollback(ctx, db.Migrations, migrationsDir)
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		if name == "" {
			logger.Info("nothing to roll back")
		}
		return nil
	}

	applied, err := st.Migrate(ctx, db.Migrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("migrations complete", slog.Int("applied", len(applied)))
	return nil
}

func bootstrap(g *Globals) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Store, error) {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := store.New(dbCtx, cfg.DBURL, store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return st, nil
}
