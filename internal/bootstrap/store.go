package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
)

// Store is an opened appointment store. Pool is nil for the memory driver.
type Store struct {
	appointment.Store
	Pool   *pgxpool.Pool
	Memory *appointment.MemoryStore
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Ping reports whether the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.Pool == nil {
		return nil
	}
	return s.Pool.Ping(ctx)
}

// OpenStore connects the configured store driver. With AutoMigrate set the
// Postgres schema is brought up to date before the store is returned.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := appointment.NewMemoryStore()
		logger.Warn("using in-memory store, data is lost on exit and not shared between processes")
		return &Store{Store: mem, Memory: mem}, nil

	case config.StoreDriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		logger.Info("connected to Postgres", zap.Int32("max_conns", cfg.DBMaxConns))

		if cfg.AutoMigrate {
			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", zap.Int("count", applied))
		}
		return &Store{Store: appointment.NewPgStore(pool), Pool: pool}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
