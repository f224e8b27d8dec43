// Package session owns the lifecycle of logged-in clients: which
// account a connection belongs to, how relogins displace older
// sessions, and what gets torn down when a connection dies.
package session

import (
	"context"

	"github.com/mordorwide/plasma/internal/db"
	"github.com/mordorwide/plasma/internal/model"
)

// The store interfaces cover exactly the queries the packet handlers
// need. The PostgreSQL repositories satisfy them in production, the
// in-memory store in testutil satisfies them in tests.

// AccountStore reads and mutates accounts.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	FindByID(ctx context.Context, id int64) (*model.Account, error)
	FindByLobbyKey(ctx context.Context, lobbyKey string) (*model.Account, error)
	Create(ctx context.Context, a *model.Account) (int64, error)
	UpdateLastLogin(ctx context.Context, id int64) error
	SetAcceptedTos(ctx context.Context, id int64, version string) error
	SetEntitlementKey(ctx context.Context, id int64, key string) error
	CountByEntitlementKey(ctx context.Context, key string) (int64, error)
}

// PersonaStore reads and mutates personas.
type PersonaStore interface {
	FindByID(ctx context.Context, id int64) (*model.Persona, error)
	FindByName(ctx context.Context, name string) (*model.Persona, error)
	FindInsecureByName(ctx context.Context, name string) (*model.Persona, error)
	NameExists(ctx context.Context, name string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Persona, error)
	ListTop(ctx context.Context, limit int) ([]model.Persona, error)
	CountByUser(ctx context.Context, userID int64) (int64, error)
	Create(ctx context.Context, userID int64, name string) (int64, error)
}

// BanStore checks the ban list.
type BanStore interface {
	IsEmailHashBanned(ctx context.Context, emailHash string) (bool, error)
}

// ConfigStore reads runtime configuration rows.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetDefault(ctx context.Context, key, def string) (string, error)
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	GetInt(ctx context.Context, key string, def int) (int, error)
}

// SessionStore reads and mutates live sessions.
type SessionStore interface {
	FindByID(ctx context.Context, id int64) (*model.Session, error)
	FindByHandle(ctx context.Context, kind model.HandleKind, handle string) (*model.Session, error)
	ListByHandle(ctx context.Context, kind model.HandleKind, handle string) ([]model.Session, error)
	FindByLobbyKey(ctx context.Context, lobbyKey string) (*model.Session, error)
	FindByUser(ctx context.Context, userID int64) (*model.Session, error)
	FindByPersona(ctx context.Context, personaID int64) (*model.Session, error)
	ListByUserExcept(ctx context.Context, userID, exceptID int64) ([]model.Session, error)
	Create(ctx context.Context, s *model.Session) (int64, error)
	Update(ctx context.Context, s *model.Session) error
	SetPersona(ctx context.Context, id, personaID int64) error
	SetNatType(ctx context.Context, id int64, nat model.NatType) error
	SetHandle(ctx context.Context, id int64, kind model.HandleKind, handle string) error
	Delete(ctx context.Context, id int64) error
}

// GameStore reads and mutates advertised games.
type GameStore interface {
	FindByID(ctx context.Context, id int64) (*model.Game, error)
	FindByPersona(ctx context.Context, personaID int64) (*model.Game, error)
	NameExists(ctx context.Context, name string) (bool, error)
	CountPublicInLobby(ctx context.Context, lobbyID int32) (int64, error)
	ListPublicInLobby(ctx context.Context, lobbyID int32) ([]model.Game, error)
	ListByPersona(ctx context.Context, personaID int64) ([]model.Game, error)
	Create(ctx context.Context, g *model.Game) (int64, error)
	Update(ctx context.Context, g *model.Game) error
	Delete(ctx context.Context, id int64) error
	DeleteByPersona(ctx context.Context, personaID int64) error
}

// ParticipantStore reads and mutates game membership.
type ParticipantStore interface {
	Find(ctx context.Context, gameID, personaID int64) (*model.Participant, error)
	Count(ctx context.Context, gameID int64) (int64, error)
	CountActive(ctx context.Context, gameID int64) (int64, error)
	Create(ctx context.Context, p *model.Participant) (int64, error)
	MarkActive(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	DeleteMembership(ctx context.Context, gameID, personaID int64) error
	DeleteByGame(ctx context.Context, gameID int64) error
	DeleteByPersona(ctx context.Context, personaID int64) error
}

// Store groups the stores the handlers work against.
type Store struct {
	Accounts     AccountStore
	Personas     PersonaStore
	Bans         BanStore
	Config       ConfigStore
	Sessions     SessionStore
	Games        GameStore
	Participants ParticipantStore
}

// NewStore adapts the PostgreSQL repositories.
func NewStore(s *db.Store) *Store {
	return &Store{
		Accounts:     s.Accounts,
		Personas:     s.Personas,
		Bans:         s.Bans,
		Config:       s.Config,
		Sessions:     s.Sessions,
		Games:        s.Games,
		Participants: s.Participants,
	}
}
