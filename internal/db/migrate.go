package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mordorwide/plasma/internal/db/migrations"
)

// RunMigrations brings the schema up to date from the embedded SQL
// files. Goose needs database/sql, so it opens its own short-lived
// connection through the pgx stdlib driver instead of sharing the pool.
func RunMigrations(ctx context.Context, dsn string) error {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer conn.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, conn, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	if version, err := goose.GetDBVersionContext(ctx, conn); err == nil {
		slog.Info("schema up to date", "version", version)
	}
	return nil
}
