package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the pgx connection pool and exposes the repositories.
type DB struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close releases the connection pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Pool exposes the underlying pool for repositories.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// ClearLiveState wipes sessions, participants and games. Called once at
// startup: live rows from a previous process are meaningless because
// their transport handles are gone.
func (d *DB) ClearLiveState(ctx context.Context) error {
	for _, table := range []string{"sessions", "participants", "games"} {
		if _, err := d.pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}
	slog.Info("stale live state cleared")
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
