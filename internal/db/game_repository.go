package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mordorwide/plasma/internal/model"
)

// GameRepository persists advertised game servers in PostgreSQL.
type GameRepository struct {
	pool *pgxpool.Pool
}

// NewGameRepository creates a new game repository.
func NewGameRepository(pool *pgxpool.Pool) *GameRepository {
	return &GameRepository{pool: pool}
}

const gameColumns = `id, lobby_id, reserve_host, name, persona_id, port, host_type, game_type,
	queue_length, disable_autodequeue, hxfr, internal_port, internal_ip, max_players,
	max_observers, user_group_id, secret, user_friends_only, user_pcdedicated, user_dlc,
	user_playmode, user_ranked, user_levelkey, user_levelname, user_mode, client_version,
	server_version, join_mode, rt, encryption_key, other_as_json`

func scanGame(row interface{ Scan(...any) error }) (*model.Game, error) {
	var g model.Game
	err := row.Scan(
		&g.ID, &g.LobbyID, &g.ReserveHost, &g.Name, &g.PersonaID, &g.Port, &g.HostType, &g.GameType,
		&g.QueueLength, &g.DisableAutoDequeue, &g.HXFR, &g.InternalPort, &g.InternalIP, &g.MaxPlayers,
		&g.MaxObservers, &g.UserGroupID, &g.Secret, &g.UserFriendsOnly, &g.UserPCDedicated, &g.UserDLC,
		&g.UserPlaymode, &g.UserRanked, &g.UserLevelKey, &g.UserLevelName, &g.UserMode, &g.ClientVersion,
		&g.ServerVersion, &g.JoinMode, &g.RT, &g.EncryptionKey, &g.OtherAsJSON,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

// FindByID returns the game with the given id, or nil, nil.
func (r *GameRepository) FindByID(ctx context.Context, id int64) (*model.Game, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	g, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("querying game %d: %w", id, err)
	}
	return g, nil
}

// FindByPersona returns the game hosted by the given persona, or nil, nil.
func (r *GameRepository) FindByPersona(ctx context.Context, personaID int64) (*model.Game, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE persona_id = $1`, personaID)
	g, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("querying game of persona %d: %w", personaID, err)
	}
	return g, nil
}

// NameExists reports whether a game with the given name is advertised.
func (r *GameRepository) NameExists(ctx context.Context, name string) (bool, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM games WHERE name = $1`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking game name %q: %w", name, err)
	}
	return n > 0, nil
}

// CountPublicInLobby counts games in the lobby that are open to
// everyone, skipping friends-only listings.
func (r *GameRepository) CountPublicInLobby(ctx context.Context, lobbyID int32) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM games WHERE lobby_id = $1 AND NOT user_friends_only`, lobbyID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting games in lobby %d: %w", lobbyID, err)
	}
	return n, nil
}

// ListPublicInLobby returns the lobby's games that are open to everyone.
func (r *GameRepository) ListPublicInLobby(ctx context.Context, lobbyID int32) ([]model.Game, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+gameColumns+` FROM games WHERE lobby_id = $1 AND NOT user_friends_only ORDER BY id ASC`, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("listing games in lobby %d: %w", lobbyID, err)
	}
	return collectGames(rows)
}

// ListByPersona returns every game hosted by the given persona.
func (r *GameRepository) ListByPersona(ctx context.Context, personaID int64) ([]model.Game, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+gameColumns+` FROM games WHERE persona_id = $1`, personaID)
	if err != nil {
		return nil, fmt.Errorf("listing games of persona %d: %w", personaID, err)
	}
	return collectGames(rows)
}

func collectGames(rows pgx.Rows) ([]model.Game, error) {
	defer rows.Close()
	var games []model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		games = append(games, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating games: %w", err)
	}
	return games, nil
}

// Create inserts a new game and returns its id.
func (r *GameRepository) Create(ctx context.Context, g *model.Game) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO games (lobby_id, reserve_host, name, persona_id, port, host_type, game_type,
			queue_length, disable_autodequeue, hxfr, internal_port, internal_ip, max_players,
			max_observers, user_group_id, secret, user_friends_only, user_pcdedicated, user_dlc,
			user_playmode, user_ranked, user_levelkey, user_levelname, user_mode, client_version,
			server_version, join_mode, rt, encryption_key, other_as_json)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
		 RETURNING id`,
		g.LobbyID, g.ReserveHost, g.Name, g.PersonaID, g.Port, g.HostType, g.GameType,
		g.QueueLength, g.DisableAutoDequeue, g.HXFR, g.InternalPort, g.InternalIP, g.MaxPlayers,
		g.MaxObservers, g.UserGroupID, g.Secret, g.UserFriendsOnly, g.UserPCDedicated, g.UserDLC,
		g.UserPlaymode, g.UserRanked, g.UserLevelKey, g.UserLevelName, g.UserMode, g.ClientVersion,
		g.ServerVersion, g.JoinMode, g.RT, g.EncryptionKey, g.OtherAsJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating game %q: %w", g.Name, err)
	}
	return id, nil
}

// Update writes back every mutable game column.
func (r *GameRepository) Update(ctx context.Context, g *model.Game) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE games SET name = $1, max_players = $2, max_observers = $3, join_mode = $4,
			user_levelkey = $5, user_levelname = $6, user_mode = $7, user_friends_only = $8,
			user_ranked = $9, user_dlc = $10, other_as_json = $11
		 WHERE id = $12`,
		g.Name, g.MaxPlayers, g.MaxObservers, g.JoinMode,
		g.UserLevelKey, g.UserLevelName, g.UserMode, g.UserFriendsOnly,
		g.UserRanked, g.UserDLC, g.OtherAsJSON, g.ID,
	)
	if err != nil {
		return fmt.Errorf("updating game %d: %w", g.ID, err)
	}
	return nil
}

// Delete removes the game. Participants cascade away with it.
func (r *GameRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting game %d: %w", id, err)
	}
	return nil
}

// DeleteByPersona removes every game hosted by the persona.
func (r *GameRepository) DeleteByPersona(ctx context.Context, personaID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM games WHERE persona_id = $1`, personaID)
	if err != nil {
		return fmt.Errorf("deleting games of persona %d: %w", personaID, err)
	}
	return nil
}
