package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BanRepository looks up account bans in PostgreSQL. Bans are stored as
// SHA-256 digests of the lowercased email, never as the address itself.
type BanRepository struct {
	pool *pgxpool.Pool
}

// NewBanRepository creates a new ban repository.
func NewBanRepository(pool *pgxpool.Pool) *BanRepository {
	return &BanRepository{pool: pool}
}

// IsEmailHashBanned reports whether the given email digest is banned.
func (r *BanRepository) IsEmailHashBanned(ctx context.Context, emailHash string) (bool, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM bans WHERE email_hash = $1`, emailHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking ban list: %w", err)
	}
	return n > 0, nil
}
