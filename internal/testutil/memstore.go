// Package testutil holds in-memory doubles for the handler unit tests.
// Nothing here touches PostgreSQL or real sockets.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/session"
)

// MemoryStore is a map-backed implementation of every store interface.
type MemoryStore struct {
	mu sync.Mutex

	accounts     map[int64]*model.Account
	personas     map[int64]*model.Persona
	bans         map[string]bool
	config       map[string]string
	sessions     map[int64]*model.Session
	games        map[int64]*model.Game
	participants map[int64]*model.Participant

	nextID int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[int64]*model.Account),
		personas:     make(map[int64]*model.Persona),
		bans:         make(map[string]bool),
		config:       make(map[string]string),
		sessions:     make(map[int64]*model.Session),
		games:        make(map[int64]*model.Game),
		participants: make(map[int64]*model.Participant),
	}
}

// Store wraps the memory store into the aggregate handlers consume.
func (m *MemoryStore) Store() *session.Store {
	return &session.Store{
		Accounts:     (*memAccounts)(m),
		Personas:     (*memPersonas)(m),
		Bans:         (*memBans)(m),
		Config:       (*memConfig)(m),
		Sessions:     (*memSessions)(m),
		Games:        (*memGames)(m),
		Participants: (*memParticipants)(m),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// Seed helpers. They assign ids and return the stored copy.

// AddAccount stores an account.
func (m *MemoryStore) AddAccount(a model.Account) *model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.id()
	}
	stored := a
	m.accounts[stored.ID] = &stored
	return &stored
}

// AddPersona stores a persona.
func (m *MemoryStore) AddPersona(p model.Persona) *model.Persona {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.id()
	}
	stored := p
	m.personas[stored.ID] = &stored
	return &stored
}

// AddSession stores a session.
func (m *MemoryStore) AddSession(s model.Session) *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
	}
	stored := s
	m.sessions[stored.ID] = &stored
	return &stored
}

// AddGame stores a game.
func (m *MemoryStore) AddGame(g model.Game) *model.Game {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == 0 {
		g.ID = m.id()
	}
	if g.OtherAsJSON == "" {
		g.OtherAsJSON = "{}"
	}
	stored := g
	m.games[stored.ID] = &stored
	return &stored
}

// AddParticipant stores a participant.
func (m *MemoryStore) AddParticipant(p model.Participant) *model.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.id()
	}
	stored := p
	m.participants[stored.ID] = &stored
	return &stored
}

// SetConfig stores a config row.
func (m *MemoryStore) SetConfig(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
}

// BanEmailHash adds a digest to the ban list.
func (m *MemoryStore) BanEmailHash(hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans[hash] = true
}

// Session returns the stored session by id, or nil.
func (m *MemoryStore) Session(id int64) *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		copied := *s
		return &copied
	}
	return nil
}

// Game returns the stored game by id, or nil.
func (m *MemoryStore) Game(id int64) *model.Game {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.games[id]; ok {
		copied := *g
		return &copied
	}
	return nil
}

// Account returns the stored account by id, or nil.
func (m *MemoryStore) Account(id int64) *model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		copied := *a
		return &copied
	}
	return nil
}

// Participant returns the membership row for the pair, or nil.
func (m *MemoryStore) Participant(gameID, personaID int64) *model.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.GameID == gameID && p.PersonaID == personaID {
			copied := *p
			return &copied
		}
	}
	return nil
}

// memAccounts implements session.AccountStore.
type memAccounts MemoryStore

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) FindByID(_ context.Context, id int64) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (m *memAccounts) FindByLobbyKey(_ context.Context, lobbyKey string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.LobbyKey == lobbyKey {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) Create(_ context.Context, a *model.Account) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Email == a.Email {
			return 0, fmt.Errorf("duplicate email %q", a.Email)
		}
	}
	stored := *a
	stored.ID = (*MemoryStore)(m).id()
	m.accounts[stored.ID] = &stored
	return stored.ID, nil
}

func (m *memAccounts) UpdateLastLogin(_ context.Context, id int64) error { return nil }

func (m *memAccounts) SetAcceptedTos(_ context.Context, id int64, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.AcceptedTos = version
	}
	return nil
}

func (m *memAccounts) SetEntitlementKey(_ context.Context, id int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.EntitlementKey = key
	}
	return nil
}

func (m *memAccounts) CountByEntitlementKey(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.accounts {
		if a.EntitlementKey == key {
			n++
		}
	}
	return n, nil
}

// memPersonas implements session.PersonaStore.
type memPersonas MemoryStore

func (m *memPersonas) FindByID(_ context.Context, id int64) (*model.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.personas[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, nil
}

func (m *memPersonas) FindByName(_ context.Context, name string) (*model.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.personas {
		if p.Name == name {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memPersonas) FindInsecureByName(_ context.Context, name string) (*model.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.personas {
		if p.Name == name && p.AllowInsecureLogin {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memPersonas) NameExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.personas {
		if strings.EqualFold(p.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memPersonas) ListByUser(_ context.Context, userID int64) ([]model.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Persona
	for _, p := range m.personas {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memPersonas) ListTop(_ context.Context, limit int) ([]model.Persona, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Persona
	for _, p := range m.personas {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPersonas) CountByUser(ctx context.Context, userID int64) (int64, error) {
	list, _ := m.ListByUser(ctx, userID)
	return int64(len(list)), nil
}

func (m *memPersonas) Create(_ context.Context, userID int64, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := (*MemoryStore)(m).id()
	m.personas[id] = &model.Persona{ID: id, UserID: userID, Name: name}
	return id, nil
}

// memBans implements session.BanStore.
type memBans MemoryStore

func (m *memBans) IsEmailHashBanned(_ context.Context, emailHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bans[emailHash], nil
}

// memConfig implements session.ConfigStore.
type memConfig MemoryStore

func (m *memConfig) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.config[key]
	return v, ok, nil
}

func (m *memConfig) GetDefault(ctx context.Context, key, def string) (string, error) {
	v, ok, _ := m.Get(ctx, key)
	if !ok {
		return def, nil
	}
	return v, nil
}

func (m *memConfig) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, ok, _ := m.Get(ctx, key)
	if !ok {
		return def, nil
	}
	return v == "1", nil
}

func (m *memConfig) GetInt(ctx context.Context, key string, def int) (int, error) {
	v, ok, _ := m.Get(ctx, key)
	if !ok {
		return def, nil
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def, nil
	}
	return n, nil
}

// memSessions implements session.SessionStore.
type memSessions MemoryStore

func (m *memSessions) handleOf(s *model.Session, kind model.HandleKind) string {
	switch kind {
	case model.HandleFeslTCP:
		return s.FeslTCPHandle
	case model.HandleTheaterTCP:
		return s.TheaterTCPHandle
	default:
		return s.TheaterUDPHandle
	}
}

func (m *memSessions) FindByID(_ context.Context, id int64) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (m *memSessions) FindByHandle(_ context.Context, kind model.HandleKind, handle string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if m.handleOf(s, kind) == handle {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memSessions) ListByHandle(_ context.Context, kind model.HandleKind, handle string) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.sessions {
		if m.handleOf(s, kind) == handle {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSessions) FindByLobbyKey(_ context.Context, lobbyKey string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.LobbyKey == lobbyKey {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memSessions) FindByUser(_ context.Context, userID int64) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == userID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memSessions) FindByPersona(_ context.Context, personaID int64) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.PersonaID == personaID {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memSessions) ListByUserExcept(_ context.Context, userID, exceptID int64) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.ID != exceptID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSessions) Create(_ context.Context, s *model.Session) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *s
	stored.ID = (*MemoryStore)(m).id()
	m.sessions[stored.ID] = &stored
	return stored.ID, nil
}

func (m *memSessions) Update(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("session %d not found", s.ID)
	}
	stored := *s
	m.sessions[s.ID] = &stored
	return nil
}

func (m *memSessions) SetPersona(_ context.Context, id, personaID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.PersonaID = personaID
	}
	return nil
}

func (m *memSessions) SetNatType(_ context.Context, id int64, nat model.NatType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.NatType = nat
	}
	return nil
}

func (m *memSessions) SetHandle(_ context.Context, id int64, kind model.HandleKind, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	switch kind {
	case model.HandleFeslTCP:
		s.FeslTCPHandle = handle
	case model.HandleTheaterTCP:
		s.TheaterTCPHandle = handle
	default:
		s.TheaterUDPHandle = handle
	}
	return nil
}

func (m *memSessions) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// memGames implements session.GameStore.
type memGames MemoryStore

func (m *memGames) FindByID(_ context.Context, id int64) (*model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.games[id]; ok {
		copied := *g
		return &copied, nil
	}
	return nil, nil
}

func (m *memGames) FindByPersona(_ context.Context, personaID int64) (*model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.games {
		if g.PersonaID == personaID {
			copied := *g
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memGames) NameExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.games {
		if g.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *memGames) CountPublicInLobby(ctx context.Context, lobbyID int32) (int64, error) {
	list, _ := m.ListPublicInLobby(ctx, lobbyID)
	return int64(len(list)), nil
}

func (m *memGames) ListPublicInLobby(_ context.Context, lobbyID int32) ([]model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Game
	for _, g := range m.games {
		if g.LobbyID == lobbyID && !g.UserFriendsOnly {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memGames) ListByPersona(_ context.Context, personaID int64) ([]model.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Game
	for _, g := range m.games {
		if g.PersonaID == personaID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memGames) Create(_ context.Context, g *model.Game) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *g
	stored.ID = (*MemoryStore)(m).id()
	m.games[stored.ID] = &stored
	return stored.ID, nil
}

func (m *memGames) Update(_ context.Context, g *model.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[g.ID]; !ok {
		return fmt.Errorf("game %d not found", g.ID)
	}
	stored := *g
	m.games[g.ID] = &stored
	return nil
}

func (m *memGames) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, id)
	for pid, p := range m.participants {
		if p.GameID == id {
			delete(m.participants, pid)
		}
	}
	return nil
}

func (m *memGames) DeleteByPersona(ctx context.Context, personaID int64) error {
	m.mu.Lock()
	var ids []int64
	for _, g := range m.games {
		if g.PersonaID == personaID {
			ids = append(ids, g.ID)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Delete(ctx, id)
	}
	return nil
}

// memParticipants implements session.ParticipantStore.
type memParticipants MemoryStore

func (m *memParticipants) Find(_ context.Context, gameID, personaID int64) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.GameID == gameID && p.PersonaID == personaID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memParticipants) Count(_ context.Context, gameID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.participants {
		if p.GameID == gameID {
			n++
		}
	}
	return n, nil
}

func (m *memParticipants) CountActive(_ context.Context, gameID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.participants {
		if p.GameID == gameID && p.QueuePos == model.QueuePosActive {
			n++
		}
	}
	return n, nil
}

func (m *memParticipants) Create(_ context.Context, p *model.Participant) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *p
	stored.ID = (*MemoryStore)(m).id()
	m.participants[stored.ID] = &stored
	return stored.ID, nil
}

func (m *memParticipants) MarkActive(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.participants[id]; ok {
		p.QueuePos = model.QueuePosActive
	}
	return nil
}

func (m *memParticipants) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.participants, id)
	return nil
}

func (m *memParticipants) DeleteMembership(_ context.Context, gameID, personaID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.participants {
		if p.GameID == gameID && p.PersonaID == personaID {
			delete(m.participants, id)
		}
	}
	return nil
}

func (m *memParticipants) DeleteByGame(_ context.Context, gameID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.participants {
		if p.GameID == gameID {
			delete(m.participants, id)
		}
	}
	return nil
}

func (m *memParticipants) DeleteByPersona(_ context.Context, personaID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.participants {
		if p.PersonaID == personaID {
			delete(m.participants, id)
		}
	}
	return nil
}
