package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mordorwide/plasma/internal/auth"
	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/protocol"
	"github.com/mordorwide/plasma/internal/validate"
)

// Credential check failures. Handlers map these onto the EA error code
// their transaction reports.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrUserBanned      = errors.New("user banned")
)

// ConnCloser force-closes connections by their stored handle string.
type ConnCloser interface {
	CloseByHandle(handle string) bool
}

// Manager implements the session lifecycle over the store.
type Manager struct {
	store *Store
	conns ConnCloser
	log   *slog.Logger
}

// NewManager creates a manager.
func NewManager(store *Store, conns ConnCloser, log *slog.Logger) *Manager {
	return &Manager{store: store, conns: conns, log: log}
}

// Store exposes the underlying store for handlers.
func (m *Manager) Store() *Store { return m.store }

// HandleKindFor maps a connection descriptor to the session column its
// handle lives in.
func HandleKindFor(con protocol.Descriptor) (model.HandleKind, bool) {
	switch {
	case con.Proto == protocol.ProtoTCP && con.Service == protocol.ServiceFesl:
		return model.HandleFeslTCP, true
	case con.Proto == protocol.ProtoTCP && con.Service == protocol.ServiceTheater:
		return model.HandleTheaterTCP, true
	case con.Proto == protocol.ProtoUDP && con.Service == protocol.ServiceTheater:
		return model.HandleTheaterUDP, true
	}
	return "", false
}

// ByConnection returns the session owning the connection, or nil, nil.
func (m *Manager) ByConnection(ctx context.Context, con protocol.Descriptor) (*model.Session, error) {
	kind, ok := HandleKindFor(con)
	if !ok {
		return nil, fmt.Errorf("connection %s cannot own a session", con.String())
	}
	return m.store.Sessions.FindByHandle(ctx, kind, con.String())
}

// Credentials is a login identity. Hashed marks passwords recovered
// from a relogin token, which are compared against the stored hash
// directly instead of being hashed again.
type Credentials struct {
	Email    string
	Password string
	Hashed   bool
}

// ValidateCredentials checks a login attempt against the accounts and
// ban tables.
func (m *Manager) ValidateCredentials(ctx context.Context, creds Credentials) (*model.Account, error) {
	email := validate.NormalizeEmail(creds.Email)
	account, err := m.store.Accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrUserNotFound
	}

	if creds.Hashed {
		if creds.Password != account.PasswordHashed {
			return nil, ErrInvalidPassword
		}
	} else if !auth.VerifyPassword(creds.Password, account.PasswordHashed) {
		return nil, ErrInvalidPassword
	}

	banned, err := m.store.Bans.IsEmailHashBanned(ctx, auth.EmailHash(email))
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, ErrUserBanned
	}
	return account, nil
}

// Activate makes con the account's active login. Any previous session
// of the account on another connection is torn down. A relogin on the
// same connection reuses the existing row so the theater handles and
// NAT findings survive.
func (m *Manager) Activate(ctx context.Context, con protocol.Descriptor, lobbyKey string, userID int64) (*model.Session, error) {
	kind, ok := HandleKindFor(con)
	if !ok || kind != model.HandleFeslTCP {
		return nil, fmt.Errorf("sessions activate only on fesl tcp connections, got %s", con.String())
	}
	handle := con.String()

	existing, err := m.store.Sessions.FindByHandle(ctx, kind, handle)
	if err != nil {
		return nil, err
	}
	var exceptID int64
	if existing != nil {
		exceptID = existing.ID
	}
	if err := m.ClearByUser(ctx, userID, exceptID); err != nil {
		return nil, err
	}

	var s *model.Session
	if existing != nil {
		existing.LobbyKey = lobbyKey
		existing.UserID = userID
		existing.PersonaID = model.NoPersona
		if err := m.store.Sessions.Update(ctx, existing); err != nil {
			return nil, err
		}
		s = existing
	} else {
		s = &model.Session{
			LobbyKey:      lobbyKey,
			UserID:        userID,
			PersonaID:     model.NoPersona,
			FeslTCPHandle: handle,
			NatType:       model.NatUnknown,
		}
		id, err := m.store.Sessions.Create(ctx, s)
		if err != nil {
			return nil, err
		}
		s.ID = id
	}

	if err := m.store.Accounts.UpdateLastLogin(ctx, userID); err != nil {
		return nil, err
	}
	return s, nil
}

// SelectPersona records the persona the session now plays as.
func (m *Manager) SelectPersona(ctx context.Context, sessionID, personaID int64) error {
	return m.store.Sessions.SetPersona(ctx, sessionID, personaID)
}

// Clear tears one session down: its persona leaves every game, its
// hosted games fold, its connections are force-closed and the row goes
// away.
func (m *Manager) Clear(ctx context.Context, s *model.Session) error {
	if s.PersonaID != model.NoPersona {
		games, err := m.store.Games.ListByPersona(ctx, s.PersonaID)
		if err != nil {
			return err
		}
		for _, g := range games {
			if err := m.store.Participants.DeleteByGame(ctx, g.ID); err != nil {
				return err
			}
		}
		if err := m.store.Games.DeleteByPersona(ctx, s.PersonaID); err != nil {
			return err
		}
		if err := m.store.Participants.DeleteByPersona(ctx, s.PersonaID); err != nil {
			return err
		}
	}

	if s.FeslTCPHandle != "" {
		m.conns.CloseByHandle(s.FeslTCPHandle)
	}
	if s.TheaterTCPHandle != "" {
		m.conns.CloseByHandle(s.TheaterTCPHandle)
	}

	if err := m.store.Sessions.Delete(ctx, s.ID); err != nil {
		return err
	}
	m.log.Info("session cleared", "session", s.ID, "user", s.UserID)
	return nil
}

// ClearByUser tears down every session of the account except the one
// with exceptID. Pass 0 to clear all.
func (m *Manager) ClearByUser(ctx context.Context, userID, exceptID int64) error {
	sessions, err := m.store.Sessions.ListByUserExcept(ctx, userID, exceptID)
	if err != nil {
		return err
	}
	for i := range sessions {
		if err := m.Clear(ctx, &sessions[i]); err != nil {
			return err
		}
	}
	return nil
}

// ConnectionClosed cleans up after an account-service connection died.
// Every session on the handle goes through Clear, so the sibling
// matchmaking connection is force-closed too instead of lingering with
// no session behind it. Closing the already-dead account handle is a
// no-op in the registry.
func (m *Manager) ConnectionClosed(ctx context.Context, con protocol.Descriptor) {
	handle := con.String()
	sessions, err := m.store.Sessions.ListByHandle(ctx, model.HandleFeslTCP, handle)
	if err != nil {
		m.log.Warn("session cleanup lookup failed", "con", handle, "error", err)
		return
	}
	for i := range sessions {
		if err := m.Clear(ctx, &sessions[i]); err != nil {
			m.log.Warn("session cleanup failed", "con", handle, "error", err)
		}
	}
}
