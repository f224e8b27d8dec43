package db

import "github.com/jackc/pgx/v5/pgxpool"

// Store bundles every repository over one connection pool.
type Store struct {
	Accounts     *AccountRepository
	Personas     *PersonaRepository
	Bans         *BanRepository
	Config       *ConfigRepository
	Sessions     *SessionRepository
	Games        *GameRepository
	Participants *ParticipantRepository
}

// NewStore wires all repositories to the pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Accounts:     NewAccountRepository(pool),
		Personas:     NewPersonaRepository(pool),
		Bans:         NewBanRepository(pool),
		Config:       NewConfigRepository(pool),
		Sessions:     NewSessionRepository(pool),
		Games:        NewGameRepository(pool),
		Participants: NewParticipantRepository(pool),
	}
}
