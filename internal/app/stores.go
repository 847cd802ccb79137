package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/storage"
	"github.com/R3E-Network/raffle_layer/internal/storage/memory"
	"github.com/R3E-Network/raffle_layer/internal/storage/migrations"
	"github.com/R3E-Network/raffle_layer/internal/storage/postgres"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// backend selected by the database configuration.
type Stores struct {
	Balances storage.BalanceStore
	Rounds   storage.RoundStore
}

func buildStores(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (Stores, *sql.DB, error) {
	switch cfg.Driver {
	case "", "memory":
		mem := memory.New()
		return Stores{Balances: mem, Rounds: mem}, nil, nil
	case "postgres":
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return Stores{}, nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.Migrate {
			if err := migrations.Apply(ctx, db); err != nil {
				db.Close()
				return Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
			}
			log.Info("database migrations applied")
		}
		store := postgres.New(db)
		return Stores{Balances: store, Rounds: store}, db, nil
	default:
		return Stores{}, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
