package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mordorwide/plasma/internal/model"
)

// PersonaRepository persists personas in PostgreSQL.
type PersonaRepository struct {
	pool *pgxpool.Pool
}

// NewPersonaRepository creates a new persona repository.
func NewPersonaRepository(pool *pgxpool.Pool) *PersonaRepository {
	return &PersonaRepository{pool: pool}
}

const personaColumns = `id, user_id, name, allow_insecure_login, created_at`

func scanPersona(row interface{ Scan(...any) error }) (*model.Persona, error) {
	var p model.Persona
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.AllowInsecureLogin, &p.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// FindByID returns the persona with the given id, or nil, nil.
func (r *PersonaRepository) FindByID(ctx context.Context, id int64) (*model.Persona, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE id = $1`, id)
	p, err := scanPersona(row)
	if err != nil {
		return nil, fmt.Errorf("querying persona %d: %w", id, err)
	}
	return p, nil
}

// FindByName returns the persona with the exact given name, or nil, nil.
func (r *PersonaRepository) FindByName(ctx context.Context, name string) (*model.Persona, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE name = $1`, name)
	p, err := scanPersona(row)
	if err != nil {
		return nil, fmt.Errorf("querying persona %q: %w", name, err)
	}
	return p, nil
}

// FindInsecureByName returns the persona with the given name that allows
// console logins without a password, or nil, nil.
func (r *PersonaRepository) FindInsecureByName(ctx context.Context, name string) (*model.Persona, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE name = $1 AND allow_insecure_login`, name)
	p, err := scanPersona(row)
	if err != nil {
		return nil, fmt.Errorf("querying insecure persona %q: %w", name, err)
	}
	return p, nil
}

// NameExists reports whether a persona with the given name exists,
// compared case-insensitively.
func (r *PersonaRepository) NameExists(ctx context.Context, name string) (bool, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM personas WHERE lower(name) = lower($1)`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking persona name %q: %w", name, err)
	}
	return n > 0, nil
}

// ListByUser returns the user's personas in creation order.
func (r *PersonaRepository) ListByUser(ctx context.Context, userID int64) ([]model.Persona, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing personas of user %d: %w", userID, err)
	}
	defer rows.Close()

	var personas []model.Persona
	for rows.Next() {
		var p model.Persona
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.AllowInsecureLogin, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning persona of user %d: %w", userID, err)
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating personas of user %d: %w", userID, err)
	}
	return personas, nil
}

// ListTop returns up to limit personas in id order. The leaderboard
// transaction samples the player base with it.
func (r *PersonaRepository) ListTop(ctx context.Context, limit int) ([]model.Persona, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+personaColumns+` FROM personas ORDER BY id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing top personas: %w", err)
	}
	defer rows.Close()

	var personas []model.Persona
	for rows.Next() {
		var p model.Persona
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.AllowInsecureLogin, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning persona: %w", err)
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating personas: %w", err)
	}
	return personas, nil
}

// CountByUser counts the personas the user has created.
func (r *PersonaRepository) CountByUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM personas WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting personas of user %d: %w", userID, err)
	}
	return n, nil
}

// Create inserts a new persona and returns its id.
func (r *PersonaRepository) Create(ctx context.Context, userID int64, name string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO personas (user_id, name) VALUES ($1, $2) RETURNING id`,
		userID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating persona %q: %w", name, err)
	}
	return id, nil
}
