package db

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConfigRepository reads runtime configuration values from the config
// table. Operators change behavior by editing rows, not by restarting.
type ConfigRepository struct {
	pool *pgxpool.Pool
}

// NewConfigRepository creates a new config repository.
func NewConfigRepository(pool *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{pool: pool}
}

// Get returns the value for the given key. The second return value is
// false when the key is not present.
func (r *ConfigRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("querying config key %q: %w", key, err)
	}
	return value, true, nil
}

// GetDefault returns the value for the key, or def when it is absent.
func (r *ConfigRepository) GetDefault(ctx context.Context, key, def string) (string, error) {
	value, ok, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return value, nil
}

// GetBool interprets the value as a flag. "1" is true, anything else is
// false. Absent keys fall back to def.
func (r *ConfigRepository) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	value, ok, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return def, nil
	}
	return value == "1", nil
}

// GetInt interprets the value as an integer. Absent or unparsable
// values fall back to def.
func (r *ConfigRepository) GetInt(ctx context.Context, key string, def int) (int, error) {
	value, ok, err := r.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return def, nil
	}
	return n, nil
}
