package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/ruralpay/ledger/internal/store/memory"
	mongostore "github.com/ruralpay/ledger/internal/store/mongo"
	"github.com/ruralpay/ledger/internal/store/postgres"
	"github.com/ruralpay/ledger/internal/store/sqlite"
)

// OpenStore connects the configured backend and applies its migrations.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Store, error) {
	var st store.Store

	switch cfg.Driver {
	case config.DriverPostgres:
		isolation, err := postgres.ParseIsolation(cfg.Isolation)
		if err != nil {
			return nil, err
		}
		db, err := OpenPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		st = postgres.New(db, isolation, logger)

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath, cfg.SQLiteBusyTimeout)
		if err != nil {
			return nil, err
		}
		st = sqlite.New(db, logger)
		logger.Info("Database connection established",
			zap.String("driver", config.DriverSQLite),
			zap.String("path", cfg.SQLitePath))

	case config.DriverMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("error connecting to mongo: %w", err)
		}
		st = mongostore.New(client, cfg.MongoDatabase, logger)
		logger.Info("Database connection established",
			zap.String("driver", config.DriverMongo),
			zap.String("database", cfg.MongoDatabase))

	case config.DriverMemory:
		logger.Warn("using in-memory store, balances are lost on restart")
		st = memory.New()

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("error connecting to %s: %w", cfg.Driver, err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
