package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/MbohBless/data-test/internal/config"
)

// Open connects to the analytical warehouse using the configured
// driver. Both drivers register with database/sql, so everything past
// this point is driver-agnostic.
func Open(ctx context.Context, cfg config.WarehouseConfig) (*sql.DB, error) {
	var driverName string
	switch cfg.Driver {
	case "pgx":
		driverName = "pgx"
		if cfg.DSN == "" {
			return nil, fmt.Errorf("warehouse dsn is required")
		}
	case "duckdb":
		driverName = "duckdb"
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open warehouse db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping warehouse db: %w", err)
	}

	return db, nil
}
