package app

import (
	"context"
	"errors"
	"fmt"

	"finora/internal/auth"
	"finora/internal/config"
	"finora/internal/db"
	"finora/internal/ledger"
)

// Stores bundles the repositories of the configured STORE_DRIVER.
type Stores struct {
	Driver string
	Auth   auth.Repository
	Ledger ledger.Repository

	// autoMigrate marks schema steps that are cheap and idempotent enough to
	// run on every start.
	autoMigrate bool
	migrate     func(context.Context) ([]string, error)
	close       func(context.Context) error
}

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

func OpenStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		database, err := db.OpenPostgres(ctx, cfg.DatabaseURL, db.PoolSettings{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		return &Stores{
			Driver: cfg.StoreDriver,
			Auth:   auth.NewPostgresRepository(database),
			Ledger: ledger.NewPostgresRepository(database),
			migrate: func(ctx context.Context) ([]string, error) {
				return db.RunMigrations(ctx, database)
			},
			close: func(context.Context) error { return database.Close() },
		}, nil

	case config.DriverMongo:
		database, err := db.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		authRepo := auth.NewMongoRepository(database)
		ledgerRepo := ledger.NewMongoRepository(database)
		return &Stores{
			Driver:      cfg.StoreDriver,
			Auth:        authRepo,
			Ledger:      ledgerRepo,
			autoMigrate: true,
			migrate: func(ctx context.Context) ([]string, error) {
				return ensureIndexes(ctx, map[string]indexer{
					"users":  authRepo,
					"ledger": ledgerRepo,
				})
			},
			close: func(ctx context.Context) error { return database.Client().Disconnect(ctx) },
		}, nil

	case config.DriverMemory:
		return &Stores{
			Driver: cfg.StoreDriver,
			Auth:   auth.NewMemoryRepository(),
			Ledger: ledger.NewMemoryRepository(),
		}, nil
	}

	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// Migrate brings the schema up to date and names the steps it applied.
func (s *Stores) Migrate(ctx context.Context) ([]string, error) {
	if s.migrate == nil {
		return nil, nil
	}
	return s.migrate(ctx)
}

func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

func ensureIndexes(ctx context.Context, targets map[string]indexer) ([]string, error) {
	var (
		applied []string
		errs    []error
	)
	for _, name := range []string{"users", "ledger"} {
		target, ok := targets[name]
		if !ok {
			continue
		}
		if err := target.EnsureIndexes(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s indexes: %w", name, err))
			continue
		}
		applied = append(applied, name+" indexes")
	}
	return applied, errors.Join(errs...)
}
