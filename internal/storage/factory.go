// Package storage provides storage implementations for the session dataset.
package storage

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/fidde/simple_hll/internal/storage/clickhouse"
	"github.com/fidde/simple_hll/internal/storage/memory"
	"github.com/fidde/simple_hll/internal/storage/sqlite"
)

// Config holds storage configuration.
type Config struct {
	// Backend selects the storage backend: "memory", "sqlite" or "clickhouse"
	Backend string

	// SQLite-specific config
	SQLitePath string

	// ClickHouse-specific config
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
}

// DefaultConfig returns default storage configuration.
func DefaultConfig() Config {
	return Config{
		Backend:            "sqlite",
		SQLitePath:         "./data/simple_hll.db",
		ClickHouseAddr:     "localhost:9000",
		ClickHouseDatabase: "default",
		ClickHouseUsername: "default",
	}
}

// NewStorage creates a storage implementation based on configuration.
// A nil logger writes info-level text logs to stdout.
func NewStorage(ctx context.Context, cfg Config, logger *slog.Logger) (Storage, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	switch cfg.Backend {
	case "memory":
		log.Printf("Using in-memory storage")
		return memory.New(), nil

	case "sqlite":
		log.Printf("Using SQLite storage: %s", cfg.SQLitePath)

		store, err := sqlite.New(sqlite.DefaultConfig(cfg.SQLitePath), logger)
		if err != nil {
			return nil, fmt.Errorf("creating SQLite store: %w", err)
		}
		return store, nil

	case "clickhouse":
		log.Printf("Using ClickHouse storage: %s", cfg.ClickHouseAddr)

		chCfg := clickhouse.DefaultConfig()
		chCfg.Addr = cfg.ClickHouseAddr
		if cfg.ClickHouseDatabase != "" {
			chCfg.Database = cfg.ClickHouseDatabase
		}
		if cfg.ClickHouseUsername != "" {
			chCfg.Username = cfg.ClickHouseUsername
		}
		chCfg.Password = cfg.ClickHousePassword

		store, err := clickhouse.NewStore(ctx, chCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("creating ClickHouse store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: memory, sqlite, clickhouse)", cfg.Backend)
	}
}
