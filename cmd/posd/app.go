package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kasirlite/backend/internal/config"
	"kasirlite/backend/internal/logging"
	"kasirlite/backend/internal/metrics"
	"kasirlite/backend/internal/service"
	"kasirlite/backend/internal/store"
	"kasirlite/backend/internal/store/memory"
	pgstore "kasirlite/backend/internal/store/postgres"
	"kasirlite/backend/internal/store/sqlite"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

// app holds what every command needs. close releases it in reverse order of
// acquisition.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	repo    store.Repository
	closers []func() error
}

type bootOptions struct {
	// migrate forces schema creation for every driver. SQLite is always
	// migrated since its file may be brand new.
	migrate bool
}

func bootstrap(ctx context.Context, opts bootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.New(cfg.AppEnv)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.repo = repo
	a.closers = append(a.closers, repo.Close)
	logger.Info("repository ready", zap.String("driver", cfg.DBDriver))

	if m, ok := repo.(migrator); ok && (opts.migrate || cfg.DBDriver == config.DriverSQLite) {
		if err := m.Migrate(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("migrate %s: %w", cfg.DBDriver, err)
		}
	}
	return a, nil
}

func openRepository(ctx context.Context, cfg config.Config) (store.Repository, error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		return memory.NewSeeded(), nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, config.DriverSQLite, sqlite.FileDSN(cfg.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("sqlite unavailable (%s): %w", cfg.SQLitePath, err)
		}
		return s, nil
	case config.DriverMySQL:
		s, err := sqlite.Open(ctx, config.DriverMySQL, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("mysql unavailable: %w", err)
		}
		return s, nil
	case config.DriverPostgres:
		s, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DB_DRIVER=postgres; refusing to start: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

// engine builds the register and resumes any open drawer session. A failed
// recovery is fatal: running without the persisted session would lose profit.
func (a *app) engine(ctx context.Context, opts service.Options) (*service.Engine, error) {
	opts.LowStockThreshold = a.cfg.LowStockThreshold
	opts.CartStockPolicy = a.cfg.CartStockPolicy
	opts.Logger = a.logger
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	engine := service.New(a.repo, opts)
	if err := engine.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recover drawer session: %w", err)
	}
	return engine, nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
