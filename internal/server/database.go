package server

import (
	"context"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
	repo "github.com/joseph-ayodele/thermo-extraction/internal/repository"
)

// ConnectDB opens Postgres when a DSN is configured and SQLite otherwise,
// then brings the schema up to date. The pool is nil for SQLite.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*entsql.Driver, *pgxpool.Pool, error) {
	var (
		drv  *entsql.Driver
		pool *pgxpool.Pool
		err  error
	)
	if cfg.DSN != "" {
		drv, pool, err = repo.Open(ctx, repo.Config{
			DSN:              cfg.DSN,
			MaxConns:         cfg.MaxConns,
			MinConns:         cfg.MinConns,
			MaxConnLifetime:  cfg.MaxConnLifetime,
			MaxConnIdleTime:  cfg.MaxConnIdleTime,
			DialTimeout:      cfg.DialTimeout,
			StatementTimeout: cfg.StatementTimeout,
		}, logger)
	} else {
		drv, err = repo.OpenSQLite(ctx, cfg.SQLitePath, logger)
	}
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, nil, err
	}
	if err := repo.Migrate(ctx, drv, logger); err != nil {
		repo.Close(drv, pool, logger)
		return nil, nil, err
	}
	return drv, pool, nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, drv *entsql.Driver, logger *slog.Logger, timeout time.Duration) error {
	return repo.HealthCheck(ctx, drv.DB(), timeout, logger)
}

// CloseDB closes the database connections gracefully
func CloseDB(drv *entsql.Driver, pool *pgxpool.Pool, logger *slog.Logger) {
	repo.Close(drv, pool, logger)
}
