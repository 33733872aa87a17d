package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/api"
	"github.com/JakeFAU/sitemap-indexer/internal/config"
	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitemap-indexer/internal/storage/postgres"
	redisstore "github.com/JakeFAU/sitemap-indexer/internal/storage/redis"
	sqlitestore "github.com/JakeFAU/sitemap-indexer/internal/storage/sqlite"
	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

// Stores bundles the catalog and run store selected by configuration.
type Stores struct {
	Catalog indexer.Catalog
	Runs    store.RunStore
	// Checks are probed by /readyz.
	Checks  []api.Pinger
	closers []func() error
}

// Close releases every connection the stores hold.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenStores connects the configured engines and applies their schema.
func OpenStores(ctx context.Context, cfg *config.Config, clock indexer.Clock, logger *zap.Logger) (*Stores, error) {
	s := &Stores{}
	if err := s.openCatalog(ctx, cfg, clock, logger); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.openRuns(ctx, cfg, logger); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// The run store shares the catalog connection unless redis is selected.
func (s *Stores) openCatalog(ctx context.Context, cfg *config.Config, clock indexer.Clock, logger *zap.Logger) error {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres pool init failed: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		catalog, err := pgstore.NewCatalog(pool, clock)
		if err != nil {
			return fmt.Errorf("postgres catalog init failed: %w", err)
		}
		s.Catalog = catalog
		s.Checks = append(s.Checks, catalog)
		if cfg.RunsBackend() == config.DriverPostgres {
			runs, err := pgstore.NewRunStore(pool)
			if err != nil {
				return fmt.Errorf("postgres run store init failed: %w", err)
			}
			s.Runs = runs
		}
		logger.Info("using postgres catalog")
	case config.DriverSQLite:
		db, err := sqlitestore.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("sqlite open failed: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		if err := sqlitestore.Migrate(ctx, db); err != nil {
			return fmt.Errorf("sqlite migrate failed: %w", err)
		}
		catalog, err := sqlitestore.NewCatalog(db, clock)
		if err != nil {
			return fmt.Errorf("sqlite catalog init failed: %w", err)
		}
		s.Catalog = catalog
		s.Checks = append(s.Checks, catalog)
		if cfg.RunsBackend() == config.DriverSQLite {
			runs, err := sqlitestore.NewRunStore(db)
			if err != nil {
				return fmt.Errorf("sqlite run store init failed: %w", err)
			}
			s.Runs = runs
		}
		logger.Info("using sqlite catalog", zap.String("dsn", cfg.Database.DSN))
	default:
		s.Catalog = memory.NewCatalog(clock)
		if cfg.RunsBackend() == config.DriverMemory {
			s.Runs = memory.NewRunStore()
		}
		logger.Warn("using in-memory catalog; sites and urls are lost on exit")
	}
	return nil
}

func (s *Stores) openRuns(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.RunsBackend() != config.BackendRedis {
		return nil
	}
	client, err := redisstore.NewClient(ctx, redisstore.Config{
		Addr:     cfg.Runs.RedisAddr,
		Password: cfg.Runs.RedisPassword,
		DB:       cfg.Runs.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("redis client init failed: %w", err)
	}
	s.closers = append(s.closers, client.Close)
	runs, err := redisstore.NewRunStore(client, cfg.Runs.RedisTTL)
	if err != nil {
		return fmt.Errorf("redis run store init failed: %w", err)
	}
	s.Runs = runs
	s.Checks = append(s.Checks, runs)
	logger.Info("using redis run store",
		zap.String("addr", cfg.Runs.RedisAddr),
		zap.Duration("ttl", cfg.Runs.RedisTTL),
	)
	return nil
}
