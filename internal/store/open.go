package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/signup-service/internal/config"
	"github.com/transfa/signup-service/internal/lock"
)

// Stores bundles the two repositories of one backend. Both share a guard so
// in-process writers are serialized per resource.
type Stores struct {
	Signups SignupRepository
	Staff   StaffRepository

	closeFn func()
}

// Close releases the backend connection, if any.
func (s *Stores) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// Open builds the repositories selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stores, error) {
	guard := lock.NewGuard()

	switch cfg.StoreBackend {
	case config.BackendFile:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, ioErr("create data dir", cfg.DataDir, err)
		}
		logger.Info("using flat-file store", "data_dir", cfg.DataDir)
		return &Stores{
			Signups: NewFileSignupRepository(cfg.DataDir, guard, logger),
			Staff:   NewFileStaffRepository(cfg.DataDir, guard, logger),
		}, nil

	case config.BackendPostgres:
		pool, err := openPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres store")
		return &Stores{
			Signups: NewPostgresSignupRepository(pool, guard, logger),
			Staff:   NewPostgresStaffRepository(pool, guard, logger),
			closeFn: pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
}

func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// MigrateAll migrates the signup table and then the staff table.
func (s *Stores) MigrateAll(ctx context.Context) ([]*MigrationReport, error) {
	signups, err := s.Signups.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate signups: %w", err)
	}
	staff, err := s.Staff.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate staff accounts: %w", err)
	}
	return []*MigrationReport{signups, staff}, nil
}
