package fesl

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mordorwide/plasma/internal/auth"
	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/protocol"
)

func TestNuLoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.mem.SetConfig("TOS_VERSION", "1.0")
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	account := f.mem.AddAccount(model.Account{
		Email:          "frodo@shire.me",
		PasswordHashed: hashed,
		LobbyKey:       "lk-frodo",
		AcceptedTos:    "1.0",
		EntitlementKey: "AAAA-MORDORWIDE",
	})

	pkt := request("NuLogin",
		"nuid", "frodo@shire.me", "password", "hunter22", "returnEncryptedInfo", "1")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, testCon))

	resp := f.submit.Last(t).Packet
	assert.Equal(t, "NuLogin", resp.Data.Get("TXN"))
	assert.Equal(t, "lk-frodo", resp.Data.Get("lkey"))
	assert.Equal(t, strconv.FormatInt(account.ID, 10), resp.Data.Get("userId"))
	assert.Equal(t, strconv.FormatInt(account.ID, 10), resp.Data.Get("profileId"))

	// The relogin token round-trips through the credential parser.
	email, pw, err := auth.ParseCredentialToken(resp.Data.Get("encryptedLoginInfo"), "UNSAFE_SERVER_SECRET_123456789")
	require.NoError(t, err)
	assert.Equal(t, "frodo@shire.me", email)
	assert.Equal(t, hashed, pw)

	s, err := f.mem.Store().Sessions.FindByHandle(context.Background(), model.HandleFeslTCP, testCon.String())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, account.ID, s.UserID)
	assert.Equal(t, model.NoPersona, s.PersonaID)
}

func TestNuLoginWithReloginToken(t *testing.T) {
	f := newFixture(t)
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	f.mem.AddAccount(model.Account{
		Email:          "frodo@shire.me",
		PasswordHashed: hashed,
		LobbyKey:       "lk-frodo",
		AcceptedTos:    "1.0",
		EntitlementKey: "AAAA-MORDORWIDE",
	})
	token, err := auth.IssueCredentialToken("frodo@shire.me", hashed, "UNSAFE_SERVER_SECRET_123456789")
	require.NoError(t, err)

	pkt := request("NuLogin", "encryptedInfo", token)
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, testCon))

	assert.Equal(t, "lk-frodo", f.submit.Last(t).Packet.Data.Get("lkey"))
}

func TestNuLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	f.mem.AddAccount(model.Account{Email: "frodo@shire.me", PasswordHashed: hashed})

	pkt := request("NuLogin", "nuid", "frodo@shire.me", "password", "wrong")
	err = f.handler.HandlePacket(context.Background(), pkt, testCon)
	assert.Error(t, err)

	resp := f.submit.Last(t).Packet
	assert.Equal(t, strconv.Itoa(protocol.CodeInvalidPassword), resp.Data.Get("errorCode"))
	assert.Equal(t, "NuLogin", resp.Data.Get("TXN"))
}

func TestNuLoginUnknownEmail(t *testing.T) {
	f := newFixture(t)

	pkt := request("NuLogin", "nuid", "nobody@shire.me", "password", "x")
	err := f.handler.HandlePacket(context.Background(), pkt, testCon)
	assert.Error(t, err)

	resp := f.submit.Last(t).Packet
	assert.Equal(t, strconv.Itoa(protocol.CodeEmailNotFound), resp.Data.Get("errorCode"))
}

func TestNuLoginBanned(t *testing.T) {
	f := newFixture(t)
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	f.mem.AddAccount(model.Account{Email: "saruman@isengard.me", PasswordHashed: hashed})
	f.mem.BanEmailHash(auth.EmailHash("saruman@isengard.me"))

	pkt := request("NuLogin", "nuid", "saruman@isengard.me", "password", "hunter22")
	err = f.handler.HandlePacket(context.Background(), pkt, testCon)
	assert.Error(t, err)

	resp := f.submit.Last(t).Packet
	assert.Equal(t, strconv.Itoa(protocol.CodeBanned), resp.Data.Get("errorCode"))
}

func TestNuLoginRaisesNewTos(t *testing.T) {
	f := newFixture(t)
	f.mem.SetConfig("TOS_VERSION", "2.0")
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	f.mem.AddAccount(model.Account{
		Email:          "frodo@shire.me",
		PasswordHashed: hashed,
		AcceptedTos:    "1.0",
		EntitlementKey: "AAAA-MORDORWIDE",
	})

	pkt := request("NuLogin", "nuid", "frodo@shire.me", "password", "hunter22")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, testCon))

	resp := f.submit.Last(t).Packet
	assert.Equal(t, strconv.Itoa(protocol.CodeNewTos), resp.Data.Get("errorCode"))
}

func TestNuLoginAcceptsNewTosFromRequest(t *testing.T) {
	f := newFixture(t)
	f.mem.SetConfig("TOS_VERSION", "2.0")
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	account := f.mem.AddAccount(model.Account{
		Email:          "frodo@shire.me",
		PasswordHashed: hashed,
		AcceptedTos:    "1.0",
		EntitlementKey: "AAAA-MORDORWIDE",
	})

	pkt := request("NuLogin", "nuid", "frodo@shire.me", "password", "hunter22", "tosVersion", "2.0")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, testCon))

	assert.Equal(t, "NuLogin", f.submit.Last(t).Packet.Data.Get("TXN"))
	assert.Equal(t, "2.0", f.mem.Account(account.ID).AcceptedTos)
}

func TestNuLoginNotEntitled(t *testing.T) {
	f := newFixture(t)
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	f.mem.AddAccount(model.Account{
		Email:          "frodo@shire.me",
		PasswordHashed: hashed,
		AcceptedTos:    "1.0",
	})

	pkt := request("NuLogin", "nuid", "frodo@shire.me", "password", "hunter22")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, testCon))

	resp := f.submit.Last(t).Packet
	assert.Equal(t, strconv.Itoa(protocol.CodeNotEntitled), resp.Data.Get("errorCode"))
}

func TestNuLoginDisplacesOtherConnection(t *testing.T) {
	f := newFixture(t)
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	account := f.mem.AddAccount(model.Account{
		Email:          "frodo@shire.me",
		PasswordHashed: hashed,
		LobbyKey:       "lk-frodo",
		AcceptedTos:    "1.0",
		EntitlementKey: "AAAA-MORDORWIDE",
	})
	otherCon := protocol.NewDescriptor(protocol.ProtoTCP, protocol.ServiceFesl, 18880, "10.0.0.2", 41000)
	old := f.mem.AddSession(model.Session{
		LobbyKey:      account.LobbyKey,
		UserID:        account.ID,
		PersonaID:     model.NoPersona,
		FeslTCPHandle: otherCon.String(),
	})

	pkt := request("NuLogin", "nuid", "frodo@shire.me", "password", "hunter22")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, testCon))

	assert.Nil(t, f.mem.Session(old.ID))
	assert.Contains(t, f.conns.Closed, otherCon.String())
}

func TestNuAddAccount(t *testing.T) {
	f := newFixture(t)

	pkt := request("NuAddAccount",
		"nuid", "Sam@Shire.ME", "password", "potatoes",
		"globalOptin", "0", "thirdPartyOptin", "1", "parentalEmail", "",
		"DOBDay", "3", "DOBMonth", "3", "DOBYear", "1995",
		"zipCode", "", "country", "CA", "language", "", "tosVersion", "1.0")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, testCon))

	assert.Equal(t, "NuAddAccount", f.submit.Last(t).Packet.Data.Get("TXN"))

	// The domain is lowercased on the way in, the local part keeps case.
	account, err := f.mem.Store().Accounts.FindByEmail(context.Background(), "Sam@shire.me")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "Sam@shire.me", account.Email)
	assert.True(t, auth.VerifyPassword("potatoes", account.PasswordHashed))
	assert.NotEmpty(t, account.LobbyKey)
	assert.Equal(t, "CA", account.Country)
	assert.True(t, account.OptinThirdParty)
}

func TestNuAddAccountRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	pkt := request("NuAddAccount", "nuid", "not-an-email", "password", "potatoes",
		"globalOptin", "0", "thirdPartyOptin", "0", "parentalEmail", "",
		"DOBDay", "1", "DOBMonth", "1", "DOBYear", "1990",
		"zipCode", "", "country", "US", "language", "", "tosVersion", "1.0")
	err := f.handler.HandlePacket(context.Background(), pkt, testCon)
	assert.Error(t, err)
	assert.Equal(t, strconv.Itoa(protocol.CodeLoginErrorHeading),
		f.submit.Last(t).Packet.Data.Get("errorCode"))

	pkt = request("NuAddAccount", "nuid", "sam@shire.me", "password", "shrt",
		"globalOptin", "0", "thirdPartyOptin", "0", "parentalEmail", "",
		"DOBDay", "1", "DOBMonth", "1", "DOBYear", "1990",
		"zipCode", "", "country", "US", "language", "", "tosVersion", "1.0")
	err = f.handler.HandlePacket(context.Background(), pkt, testCon)
	assert.Error(t, err)
	assert.Equal(t, strconv.Itoa(protocol.CodeInvalidPassword),
		f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestNuAddPersonaFlow(t *testing.T) {
	f := newFixture(t)
	_, s := f.seedLogin(t, "frodo@shire.me")

	require.NoError(t, f.handler.HandlePacket(context.Background(),
		request("NuAddPersona", "name", "Frodo"), testCon))
	assert.Equal(t, "NuAddPersona", f.submit.Last(t).Packet.Data.Get("TXN"))

	// Duplicate names are rejected case-insensitively.
	err := f.handler.HandlePacket(context.Background(),
		request("NuAddPersona", "name", "frodo"), testCon)
	assert.Error(t, err)
	assert.Equal(t, strconv.Itoa(protocol.CodeNameInUse),
		f.submit.Last(t).Packet.Data.Get("errorCode"))

	require.NoError(t, f.handler.HandlePacket(context.Background(),
		request("NuGetPersonas"), testCon))
	resp := f.submit.Last(t).Packet
	assert.Equal(t, "1", resp.Data.Get("personas.[]"))
	assert.Equal(t, "Frodo", resp.Data.Get("personas.0"))

	require.NoError(t, f.handler.HandlePacket(context.Background(),
		request("NuLoginPersona", "name", "Frodo"), testCon))
	resp = f.submit.Last(t).Packet
	assert.Equal(t, "NuLoginPersona", resp.Data.Get("TXN"))
	assert.Equal(t, s.LobbyKey, resp.Data.Get("lkey"))

	got := f.mem.Session(s.ID)
	require.NotNil(t, got)
	assert.NotEqual(t, model.NoPersona, got.PersonaID)
}

func TestNuAddPersonaLimit(t *testing.T) {
	f := newFixture(t)
	f.mem.SetConfig("MAX_PERSONAS", "1")
	account, _ := f.seedLogin(t, "frodo@shire.me")
	f.mem.AddPersona(model.Persona{UserID: account.ID, Name: "Frodo"})

	err := f.handler.HandlePacket(context.Background(),
		request("NuAddPersona", "name", "Underhill"), testCon)
	assert.Error(t, err)
	assert.Equal(t, strconv.Itoa(protocol.CodeTooManyPersonas),
		f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestNuAddPersonaRequiresAuth(t *testing.T) {
	f := newFixture(t)

	err := f.handler.HandlePacket(context.Background(),
		request("NuAddPersona", "name", "Frodo"), testCon)
	assert.Error(t, err)
	assert.Equal(t, strconv.Itoa(protocol.CodeAuthFail),
		f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestNuSuggestPersonas(t *testing.T) {
	f := newFixture(t)
	account, _ := f.seedLogin(t, "frodo@shire.me")
	f.mem.AddPersona(model.Persona{UserID: account.ID, Name: "Frodo-1"})

	require.NoError(t, f.handler.HandlePacket(context.Background(),
		request("NuSuggestPersonas", "name", "Frodo", "maxSuggestions", "2"), testCon))

	resp := f.submit.Last(t).Packet
	assert.Equal(t, "2", resp.Data.Get("names.[]"))
	assert.Equal(t, "Frodo-2", resp.Data.Get("names.0"))
	assert.Equal(t, "Frodo-3", resp.Data.Get("names.1"))
}

func TestNuSuggestPersonasExhaustedNamespace(t *testing.T) {
	f := newFixture(t)
	account, _ := f.seedLogin(t, "frodo@shire.me")
	for i := 1; i <= 200; i++ {
		f.mem.AddPersona(model.Persona{UserID: account.ID, Name: fmt.Sprintf("Frodo-%d", i)})
	}

	require.NoError(t, f.handler.HandlePacket(context.Background(),
		request("NuSuggestPersonas", "name", "Frodo", "maxSuggestions", "3"), testCon))

	// Every probed candidate is taken; the handler still terminates and
	// answers with whatever it found.
	resp := f.submit.Last(t).Packet
	assert.Equal(t, "NuSuggestPersonas", resp.Data.Get("TXN"))
	assert.Equal(t, "0", resp.Data.Get("names.[]"))
}

func TestNuEntitleGame(t *testing.T) {
	f := newFixture(t)
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	account := f.mem.AddAccount(model.Account{
		Email:          "frodo@shire.me",
		PasswordHashed: hashed,
		LobbyKey:       "lk-frodo",
	})
	f.mem.AddSession(model.Session{
		LobbyKey:      account.LobbyKey,
		UserID:        account.ID,
		PersonaID:     model.NoPersona,
		FeslTCPHandle: testCon.String(),
	})

	pkt := request("NuEntitleGame",
		"key", "BBBB-MORDORWIDE", "nuid", "frodo@shire.me", "password", "hunter22")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, testCon))

	resp := f.submit.Last(t).Packet
	assert.Equal(t, "NuEntitleGame", resp.Data.Get("TXN"))
	assert.Equal(t, "BBBB-MORDORWIDE", resp.Data.Get("lkey"))
	assert.Equal(t, "BBBB-MORDORWIDE", f.mem.Account(account.ID).EntitlementKey)
}

func TestNuEntitleGameRejectsBadKey(t *testing.T) {
	f := newFixture(t)
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	account := f.mem.AddAccount(model.Account{Email: "frodo@shire.me", PasswordHashed: hashed})
	f.mem.AddSession(model.Session{
		UserID: account.ID, PersonaID: model.NoPersona, FeslTCPHandle: testCon.String(),
	})

	pkt := request("NuEntitleGame", "key", "NOT-A-KEY", "nuid", "frodo@shire.me", "password", "hunter22")
	err = f.handler.HandlePacket(context.Background(), pkt, testCon)
	assert.Error(t, err)
	assert.Equal(t, strconv.Itoa(protocol.CodeInvalidRegCode),
		f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestNuEntitleGameAlreadyEntitled(t *testing.T) {
	f := newFixture(t)
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	account := f.mem.AddAccount(model.Account{
		Email: "frodo@shire.me", PasswordHashed: hashed, EntitlementKey: "AAAA-MORDORWIDE",
	})
	f.mem.AddSession(model.Session{
		UserID: account.ID, PersonaID: model.NoPersona, FeslTCPHandle: testCon.String(),
	})

	pkt := request("NuEntitleGame", "key", "BBBB-MORDORWIDE", "nuid", "frodo@shire.me", "password", "hunter22")
	err = f.handler.HandlePacket(context.Background(), pkt, testCon)
	assert.Error(t, err)
	assert.Equal(t, strconv.Itoa(protocol.CodeAccountAlreadyEntitled),
		f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestNuEntitleGameExclusiveKeys(t *testing.T) {
	f := newFixture(t)
	f.mem.SetConfig("ENABLE_SHARED_ENTITLEMENT", "0")
	hashed, err := auth.HashPassword("hunter22")
	require.NoError(t, err)
	f.mem.AddAccount(model.Account{Email: "other@shire.me", PasswordHashed: hashed, EntitlementKey: "BBBB-MORDORWIDE"})
	account := f.mem.AddAccount(model.Account{Email: "frodo@shire.me", PasswordHashed: hashed})
	f.mem.AddSession(model.Session{
		UserID: account.ID, PersonaID: model.NoPersona, FeslTCPHandle: testCon.String(),
	})

	pkt := request("NuEntitleGame", "key", "BBBB-MORDORWIDE", "nuid", "frodo@shire.me", "password", "hunter22")
	err = f.handler.HandlePacket(context.Background(), pkt, testCon)
	assert.Error(t, err)
	assert.Equal(t, strconv.Itoa(protocol.CodeRegCodeAlreadyInUse),
		f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestNuXBL360Login(t *testing.T) {
	f := newFixture(t)
	account := f.mem.AddAccount(model.Account{Email: "frodo@shire.me", LobbyKey: "lk-frodo"})
	persona := f.mem.AddPersona(model.Persona{UserID: account.ID, Name: "Frodo", AllowInsecureLogin: true})

	pkt := request("NuXBL360Login", "gamertag", "Frodo", "xuid", "1", "macAddr", "0", "consoleId", "2")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, testCon))

	resp := f.submit.Last(t).Packet
	assert.Equal(t, "NuXBL360Login", resp.Data.Get("TXN"))
	assert.Equal(t, "lk-frodo", resp.Data.Get("lkey"))
	assert.Equal(t, "Frodo", resp.Data.Get("personaName"))

	s, err := f.mem.Store().Sessions.FindByHandle(context.Background(), model.HandleFeslTCP, testCon.String())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, persona.ID, s.PersonaID)
}

func TestNuXBL360LoginRequiresInsecurePersona(t *testing.T) {
	f := newFixture(t)
	account := f.mem.AddAccount(model.Account{Email: "frodo@shire.me"})
	f.mem.AddPersona(model.Persona{UserID: account.ID, Name: "Frodo"})

	pkt := request("NuXBL360Login", "gamertag", "Frodo")
	err := f.handler.HandlePacket(context.Background(), pkt, testCon)
	assert.Error(t, err)
	assert.Equal(t, strconv.Itoa(protocol.CodeNotFound),
		f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestNuGetTos(t *testing.T) {
	f := newFixture(t)
	f.mem.SetConfig("TOS_VERSION", "1.0")
	f.mem.SetConfig("TOS_TEXT_US", "welcome")
	f.mem.SetConfig("TOS_TEXT_DE", "willkommen")

	require.NoError(t, f.handler.HandlePacket(context.Background(),
		request("NuGetTos", "countryCode", "DE"), testCon))
	resp := f.submit.Last(t).Packet
	assert.Equal(t, "willkommen", resp.Data.Get("tos"))
	assert.Equal(t, "1.0", resp.Data.Get("version"))

	// Unknown countries fall back to the US text.
	require.NoError(t, f.handler.HandlePacket(context.Background(),
		request("NuGetTos", "countryCode", "FR"), testCon))
	assert.Equal(t, "welcome", f.submit.Last(t).Packet.Data.Get("tos"))
}

func TestNuGetTosNoData(t *testing.T) {
	f := newFixture(t)

	err := f.handler.HandlePacket(context.Background(), request("NuGetTos"), testCon)
	assert.Error(t, err)
	assert.Equal(t, strconv.Itoa(protocol.CodeNoData),
		f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestGetCountryList(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.handler.HandlePacket(context.Background(),
		request("GetCountryList"), testCon))

	resp := f.submit.Last(t).Packet
	assert.Equal(t, "AU", resp.Data.Get("countryList.0.ISOCode"))
	assert.Equal(t, "United States of America", resp.Data.Get("countryList.16.description"))
	assert.Equal(t, "17", resp.Data.Get("countryList.[]"))

	// The count is emitted after the entries.
	keys := resp.Data.Keys()
	assert.Equal(t, "countryList.[]", keys[len(keys)-1])
}
