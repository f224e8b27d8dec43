package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mordorwide/plasma/internal/model"
)

// ParticipantRepository persists game membership in PostgreSQL.
type ParticipantRepository struct {
	pool *pgxpool.Pool
}

// NewParticipantRepository creates a new participant repository.
func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{pool: pool}
}

const participantColumns = `id, game_id, persona_id, queue_pos, ticket,
	client_expected_host_port, client_expected_host_ip, host_expected_client_port, host_expected_client_ip`

// Find returns the participant entry of the persona in the game, or nil, nil.
func (r *ParticipantRepository) Find(ctx context.Context, gameID, personaID int64) (*model.Participant, error) {
	var p model.Participant
	err := r.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE game_id = $1 AND persona_id = $2`,
		gameID, personaID,
	).Scan(&p.ID, &p.GameID, &p.PersonaID, &p.QueuePos, &p.Ticket,
		&p.ClientExpectedHostPort, &p.ClientExpectedHostIP, &p.HostExpectedClientPort, &p.HostExpectedClientIP)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying participant %d of game %d: %w", personaID, gameID, err)
	}
	return &p, nil
}

// Count counts everyone attached to the game, queued or active.
func (r *ParticipantRepository) Count(ctx context.Context, gameID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM participants WHERE game_id = $1`, gameID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting participants of game %d: %w", gameID, err)
	}
	return n, nil
}

// CountActive counts participants that already entered the game.
func (r *ParticipantRepository) CountActive(ctx context.Context, gameID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM participants WHERE game_id = $1 AND queue_pos = $2`,
		gameID, model.QueuePosActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active participants of game %d: %w", gameID, err)
	}
	return n, nil
}

// Create inserts a new participant and returns its id.
func (r *ParticipantRepository) Create(ctx context.Context, p *model.Participant) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO participants (game_id, persona_id, queue_pos, ticket,
			client_expected_host_port, client_expected_host_ip, host_expected_client_port, host_expected_client_ip)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		p.GameID, p.PersonaID, p.QueuePos, p.Ticket,
		p.ClientExpectedHostPort, p.ClientExpectedHostIP, p.HostExpectedClientPort, p.HostExpectedClientIP,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating participant for game %d: %w", p.GameID, err)
	}
	return id, nil
}

// MarkActive moves the participant out of the queue into the game.
func (r *ParticipantRepository) MarkActive(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE participants SET queue_pos = $1 WHERE id = $2`, model.QueuePosActive, id)
	if err != nil {
		return fmt.Errorf("marking participant %d active: %w", id, err)
	}
	return nil
}

// Delete removes the participant entry by id.
func (r *ParticipantRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM participants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting participant %d: %w", id, err)
	}
	return nil
}

// DeleteMembership removes the persona from the game. Missing entries
// are not an error, the host may have removed the player already.
func (r *ParticipantRepository) DeleteMembership(ctx context.Context, gameID, personaID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM participants WHERE game_id = $1 AND persona_id = $2`, gameID, personaID)
	if err != nil {
		return fmt.Errorf("removing participant %d from game %d: %w", personaID, gameID, err)
	}
	return nil
}

// DeleteByGame removes everyone attached to the game.
func (r *ParticipantRepository) DeleteByGame(ctx context.Context, gameID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM participants WHERE game_id = $1`, gameID)
	if err != nil {
		return fmt.Errorf("clearing participants of game %d: %w", gameID, err)
	}
	return nil
}

// DeleteByPersona removes the persona from every game.
func (r *ParticipantRepository) DeleteByPersona(ctx context.Context, personaID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM participants WHERE persona_id = $1`, personaID)
	if err != nil {
		return fmt.Errorf("clearing participations of persona %d: %w", personaID, err)
	}
	return nil
}
