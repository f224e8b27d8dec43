package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mordorwide/plasma/internal/model"
)

// SessionRepository persists live sessions in PostgreSQL. A session row
// ties a logged-in account to its transport handles and NAT findings.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, lobby_key, user_id, persona_id, fesl_tcp_handle, theater_tcp_handle, theater_udp_handle, nat_type`

func handleColumn(kind model.HandleKind) (string, error) {
	switch kind {
	case model.HandleFeslTCP:
		return "fesl_tcp_handle", nil
	case model.HandleTheaterTCP:
		return "theater_tcp_handle", nil
	case model.HandleTheaterUDP:
		return "theater_udp_handle", nil
	}
	return "", fmt.Errorf("unknown handle kind %q", kind)
}

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.LobbyKey, &s.UserID, &s.PersonaID,
		&s.FeslTCPHandle, &s.TheaterTCPHandle, &s.TheaterUDPHandle, &s.NatType)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// FindByID returns the session with the given id, or nil, nil.
func (r *SessionRepository) FindByID(ctx context.Context, id int64) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("querying session %d: %w", id, err)
	}
	return s, nil
}

// FindByHandle returns the session owning the given transport handle,
// or nil, nil.
func (r *SessionRepository) FindByHandle(ctx context.Context, kind model.HandleKind, handle string) (*model.Session, error) {
	column, err := handleColumn(kind)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE `+column+` = $1`, handle)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("querying session by %s: %w", kind, err)
	}
	return s, nil
}

// ListByHandle returns every session owning the given transport handle.
func (r *SessionRepository) ListByHandle(ctx context.Context, kind model.HandleKind, handle string) ([]model.Session, error) {
	column, err := handleColumn(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE `+column+` = $1`, handle)
	if err != nil {
		return nil, fmt.Errorf("listing sessions by %s: %w", kind, err)
	}
	return collectSessions(rows)
}

// FindByLobbyKey returns the session authenticated under the given
// lobby key, or nil, nil.
func (r *SessionRepository) FindByLobbyKey(ctx context.Context, lobbyKey string) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE lobby_key = $1`, lobbyKey)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("querying session by lobby key: %w", err)
	}
	return s, nil
}

// FindByUser returns a session of the given account, or nil, nil.
func (r *SessionRepository) FindByUser(ctx context.Context, userID int64) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1`, userID)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("querying session of user %d: %w", userID, err)
	}
	return s, nil
}

// FindByPersona returns the session that selected the given persona,
// or nil, nil.
func (r *SessionRepository) FindByPersona(ctx context.Context, personaID int64) (*model.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE persona_id = $1`, personaID)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("querying session of persona %d: %w", personaID, err)
	}
	return s, nil
}

// ListByUserExcept returns every session of the account, skipping the
// one with the given id. Pass exceptID 0 to list all.
func (r *SessionRepository) ListByUserExcept(ctx context.Context, userID, exceptID int64) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 AND id <> $2`, userID, exceptID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions of user %d: %w", userID, err)
	}
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]model.Session, error) {
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.LobbyKey, &s.UserID, &s.PersonaID,
			&s.FeslTCPHandle, &s.TheaterTCPHandle, &s.TheaterUDPHandle, &s.NatType); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Create inserts a new session and returns its id.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO sessions (lobby_key, user_id, persona_id, fesl_tcp_handle, theater_tcp_handle, theater_udp_handle, nat_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		s.LobbyKey, s.UserID, s.PersonaID, s.FeslTCPHandle, s.TheaterTCPHandle, s.TheaterUDPHandle, s.NatType,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating session for user %d: %w", s.UserID, err)
	}
	return id, nil
}

// Update writes back every mutable session column. Used when a relogin
// reuses an existing row to keep its theater handles alive.
func (r *SessionRepository) Update(ctx context.Context, s *model.Session) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET lobby_key = $1, user_id = $2, persona_id = $3,
			fesl_tcp_handle = $4, theater_tcp_handle = $5, theater_udp_handle = $6, nat_type = $7
		 WHERE id = $8`,
		s.LobbyKey, s.UserID, s.PersonaID, s.FeslTCPHandle, s.TheaterTCPHandle, s.TheaterUDPHandle, s.NatType, s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating session %d: %w", s.ID, err)
	}
	return nil
}

// SetPersona records the persona selected by the session.
func (r *SessionRepository) SetPersona(ctx context.Context, id, personaID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET persona_id = $1 WHERE id = $2`, personaID, id)
	if err != nil {
		return fmt.Errorf("setting persona of session %d: %w", id, err)
	}
	return nil
}

// SetNatType records the NAT classification of the session.
func (r *SessionRepository) SetNatType(ctx context.Context, id int64, nat model.NatType) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET nat_type = $1 WHERE id = $2`, nat, id)
	if err != nil {
		return fmt.Errorf("setting nat type of session %d: %w", id, err)
	}
	return nil
}

// SetHandle records a transport handle on the session.
func (r *SessionRepository) SetHandle(ctx context.Context, id int64, kind model.HandleKind, handle string) error {
	column, err := handleColumn(kind)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE sessions SET `+column+` = $1 WHERE id = $2`, handle, id)
	if err != nil {
		return fmt.Errorf("setting %s of session %d: %w", kind, id, err)
	}
	return nil
}

// Delete removes the session row.
func (r *SessionRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session %d: %w", id, err)
	}
	return nil
}
