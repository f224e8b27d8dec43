package fesl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mordorwide/plasma/internal/auth"
	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/protocol"
	"github.com/mordorwide/plasma/internal/validate"
)

const (
	defaultTosVersion  = "1.0"
	defaultMaxPersonas = 5

	// Entitlement keys are community-issued and end in this marker.
	entitlementKeySuffix = "-MORDORWIDE"
)

func (h *Handler) acctNuLogin(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	returnToken := pkt.Data.Get("returnEncryptedInfo") == "1"
	requestTos := pkt.Data.Get("tosVersion")

	s, err := h.authenticate(ctx, pkt, con)
	if err != nil {
		h.fail(ctx, pkt, con, loginErrorCode(err))
		return fmt.Errorf("NuLogin: %w", err)
	}

	data := protocol.DictOf(
		"TXN", "NuLogin",
		"lkey", s.LobbyKey,
		"profileId", strconv.FormatInt(s.UserID, 10),
		"userId", strconv.FormatInt(s.UserID, 10),
	)

	account, err := h.store.Accounts.FindByID(ctx, s.UserID)
	if err != nil || account == nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuLogin: loading account %d: %w", s.UserID, err)
	}
	h.log.Info("login successful", "email", account.Email, "con", con.String())

	if returnToken {
		token, err := auth.IssueCredentialToken(account.Email, account.PasswordHashed, h.secretKey)
		if err != nil {
			h.fail(ctx, pkt, con, protocol.CodeAuthFail)
			return fmt.Errorf("NuLogin: issuing relogin token: %w", err)
		}
		data.Set("encryptedLoginInfo", token)
	}

	tosCheck, err := h.store.Config.GetBool(ctx, "ENABLE_TOS_CHECK", true)
	if err != nil {
		return err
	}
	if tosCheck {
		latest, err := h.store.Config.GetDefault(ctx, "TOS_VERSION", defaultTosVersion)
		if err != nil {
			return err
		}
		if account.AcceptedTos != latest {
			if requestTos != latest {
				h.fail(ctx, pkt, con, protocol.CodeNewTos)
				return nil
			}
			// The request confirms the current terms.
			if err := h.store.Accounts.SetAcceptedTos(ctx, account.ID, latest); err != nil {
				return err
			}
		}
	}

	entitlementCheck, err := h.store.Config.GetBool(ctx, "ENABLE_ENTITLEMENT", true)
	if err != nil {
		return err
	}
	if entitlementCheck && account.EntitlementKey == "" {
		h.fail(ctx, pkt, con, protocol.CodeNotEntitled)
		return nil
	}

	h.respond(ctx, pkt, con, data)
	return nil
}

func (h *Handler) acctNuAddAccount(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	email := validate.NormalizeEmail(pkt.Data.Get("nuid"))
	password := pkt.Data.Get("password")

	if err := validate.Email(email); err != nil {
		h.fail(ctx, pkt, con, protocol.CodeLoginErrorHeading)
		return fmt.Errorf("NuAddAccount: %w", err)
	}
	if err := validate.Password(password); err != nil {
		h.fail(ctx, pkt, con, protocol.CodeInvalidPassword)
		return fmt.Errorf("NuAddAccount: %w", err)
	}

	birthdate, err := time.Parse("2006-1-2", fmt.Sprintf("%s-%s-%s",
		pkt.Data.Get("DOBYear"), pkt.Data.Get("DOBMonth"), pkt.Data.Get("DOBDay")))
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeLoginErrorHeading)
		return fmt.Errorf("NuAddAccount: parsing birthdate: %w", err)
	}

	if existing, err := h.store.Accounts.FindByEmail(ctx, email); err != nil {
		return err
	} else if existing != nil {
		h.fail(ctx, pkt, con, protocol.CodeLoginErrorHeading)
		return fmt.Errorf("NuAddAccount: email %q already registered", email)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("NuAddAccount: hashing password: %w", err)
	}

	now := time.Now().UTC()
	account := &model.Account{
		Email:           email,
		PasswordHashed:  hashed,
		LobbyKey:        uuid.NewString(),
		CreatedAt:       now,
		LastLogin:       now,
		OptinGlobal:     pkt.Data.Get("globalOptin") == "1",
		OptinThirdParty: pkt.Data.Get("thirdPartyOptin") == "1",
		ParentalEmail:   pkt.Data.Get("parentalEmail"),
		Birthdate:       birthdate,
		Zipcode:         pkt.Data.Get("zipCode"),
		Country:         pkt.Data.Get("country"),
		Language:        pkt.Data.Get("language"),
		AcceptedTos:     pkt.Data.Get("tosVersion"),
	}
	if _, err := h.store.Accounts.Create(ctx, account); err != nil {
		h.fail(ctx, pkt, con, protocol.CodeLoginErrorHeading)
		return fmt.Errorf("NuAddAccount: %w", err)
	}
	h.log.Info("account registered", "email", email)

	h.respond(ctx, pkt, con, protocol.DictOf("TXN", "NuAddAccount"))
	return nil
}

func (h *Handler) acctNuAddPersona(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s == nil || s.PersonaID != model.NoPersona {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuAddPersona: no bare authenticated session on %s", con.String())
	}

	name := pkt.Data.Get("name")

	count, err := h.store.Personas.CountByUser(ctx, s.UserID)
	if err != nil {
		return err
	}
	maxPersonas, err := h.store.Config.GetInt(ctx, "MAX_PERSONAS", defaultMaxPersonas)
	if err != nil {
		return err
	}
	if count >= int64(maxPersonas) {
		h.fail(ctx, pkt, con, protocol.CodeTooManyPersonas)
		return fmt.Errorf("NuAddPersona: user %d reached persona limit", s.UserID)
	}

	if err := validate.PersonaName(name); err != nil {
		h.fail(ctx, pkt, con, protocol.CodeLoginErrorHeading)
		return fmt.Errorf("NuAddPersona: %w", err)
	}
	if taken, err := h.store.Personas.NameExists(ctx, name); err != nil {
		return err
	} else if taken {
		h.fail(ctx, pkt, con, protocol.CodeNameInUse)
		return fmt.Errorf("NuAddPersona: name %q taken", name)
	}

	if _, err := h.store.Personas.Create(ctx, s.UserID, name); err != nil {
		return err
	}

	h.respond(ctx, pkt, con, protocol.DictOf("TXN", "NuAddPersona"))
	return nil
}

func (h *Handler) acctNuGetPersonas(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s == nil || s.PersonaID != model.NoPersona {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuGetPersonas: no bare authenticated session on %s", con.String())
	}

	personas, err := h.store.Personas.ListByUser(ctx, s.UserID)
	if err != nil {
		return err
	}

	data := protocol.DictOf("TXN", "NuGetPersonas")
	data.Set("personas.[]", strconv.Itoa(len(personas)))
	for i, p := range personas {
		data.Set(fmt.Sprintf("personas.%d", i), p.Name)
	}
	h.respond(ctx, pkt, con, data)
	return nil
}

func (h *Handler) acctNuLoginPersona(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s == nil || s.PersonaID != model.NoPersona {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuLoginPersona: no bare authenticated session on %s", con.String())
	}

	name := pkt.Data.Get("name")
	persona, err := h.store.Personas.FindByName(ctx, name)
	if err != nil {
		return err
	}
	if persona == nil {
		return fmt.Errorf("NuLoginPersona: persona %q not found", name)
	}

	if err := h.sessions.SelectPersona(ctx, s.ID, persona.ID); err != nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuLoginPersona: %w", err)
	}
	h.log.Info("persona login", "persona", persona.Name, "user", s.UserID)

	h.respond(ctx, pkt, con, protocol.DictOf(
		"TXN", "NuLoginPersona",
		"lkey", s.LobbyKey,
		"profileId", strconv.FormatInt(s.UserID, 10),
		"userId", strconv.FormatInt(s.UserID, 10),
	))
	return nil
}

func (h *Handler) acctNuSuggestPersonas(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	name := pkt.Data.Get("name")
	maxSuggestions := 3
	if v, err := strconv.Atoi(pkt.Data.Get("maxSuggestions")); err == nil {
		maxSuggestions = v
	}

	// Bounded probe: a crowded namespace yields fewer suggestions
	// instead of an endless store scan.
	const maxAttempts = 200
	var suggestions []string
	for ctr := 1; len(suggestions) < maxSuggestions && ctr <= maxAttempts; ctr++ {
		candidate := fmt.Sprintf("%s-%d", name, ctr)
		taken, err := h.store.Personas.NameExists(ctx, candidate)
		if err != nil {
			return err
		}
		if !taken {
			suggestions = append(suggestions, candidate)
		}
	}

	data := protocol.DictOf("TXN", "NuSuggestPersonas")
	data.Set("names.[]", strconv.Itoa(len(suggestions)))
	for i, n := range suggestions {
		data.Set(fmt.Sprintf("names.%d", i), n)
	}
	h.respond(ctx, pkt, con, data)
	return nil
}

func (h *Handler) acctNuEntitleGame(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s == nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuEntitleGame: no session on %s", con.String())
	}

	key := pkt.Data.Get("key")

	// The packet carries the credentials again; they must resolve to the
	// session's account.
	creds, err := h.credentials(pkt)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuEntitleGame: %w", err)
	}
	account, err := h.sessions.ValidateCredentials(ctx, creds)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuEntitleGame: %w", err)
	}
	if account.ID != s.UserID {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuEntitleGame: credentials do not match session user %d", s.UserID)
	}

	if account.EntitlementKey != "" {
		h.fail(ctx, pkt, con, protocol.CodeAccountAlreadyEntitled)
		return fmt.Errorf("NuEntitleGame: account %d already entitled", account.ID)
	}

	shared, err := h.store.Config.GetBool(ctx, "ENABLE_SHARED_ENTITLEMENT", true)
	if err != nil {
		return err
	}
	if !shared {
		inUse, err := h.store.Accounts.CountByEntitlementKey(ctx, key)
		if err != nil {
			return err
		}
		if inUse > 0 {
			h.fail(ctx, pkt, con, protocol.CodeRegCodeAlreadyInUse)
			return fmt.Errorf("NuEntitleGame: key already in use")
		}
	}

	if !strings.HasSuffix(key, entitlementKeySuffix) {
		h.fail(ctx, pkt, con, protocol.CodeInvalidRegCode)
		return fmt.Errorf("NuEntitleGame: malformed key")
	}

	if err := h.store.Accounts.SetEntitlementKey(ctx, account.ID, key); err != nil {
		return err
	}

	h.respond(ctx, pkt, con, protocol.DictOf(
		"TXN", "NuEntitleGame",
		"lkey", key,
		"profileId", strconv.FormatInt(account.ID, 10),
		"userId", strconv.FormatInt(account.ID, 10),
	))
	return nil
}

func (h *Handler) acctNuPS3Login(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s != nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuPS3Login: connection %s already authenticated", con.String())
	}

	ticket, ok := pkt.Data.Lookup("ticket")
	if !ok {
		return fmt.Errorf("NuPS3Login: no ticket provided")
	}
	parsed, err := auth.ParsePSNTicketHex(ticket)
	if err != nil {
		return fmt.Errorf("NuPS3Login: %w", err)
	}
	psnName, err := parsed.OnlineName()
	if err != nil {
		return fmt.Errorf("NuPS3Login: %w", err)
	}

	return h.consoleLogin(ctx, pkt, con, "NuPS3Login", psnName)
}

func (h *Handler) acctNuXBL360Login(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s != nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("NuXBL360Login: connection %s already authenticated", con.String())
	}

	gamertag, ok := pkt.Data.Lookup("gamertag")
	if !ok {
		return fmt.Errorf("NuXBL360Login: no gamertag provided")
	}

	return h.consoleLogin(ctx, pkt, con, "NuXBL360Login", gamertag)
}

// consoleLogin signs a console player in by persona name alone. Only
// personas explicitly flagged for insecure login qualify.
func (h *Handler) consoleLogin(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor, txn, name string) error {
	persona, err := h.store.Personas.FindInsecureByName(ctx, name)
	if err != nil {
		return err
	}
	if persona == nil {
		h.fail(ctx, pkt, con, protocol.CodeNotFound)
		return fmt.Errorf("%s: no insecure persona %q", txn, name)
	}

	account, err := h.store.Accounts.FindByID(ctx, persona.UserID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%s: account %d of persona %q missing", txn, persona.UserID, name)
	}
	h.log.Info("console login", "txn", txn, "persona", persona.Name, "con", con.String())

	s, err := h.sessions.Activate(ctx, con, account.LobbyKey, account.ID)
	if err != nil {
		return err
	}
	if err := h.sessions.SelectPersona(ctx, s.ID, persona.ID); err != nil {
		return err
	}

	h.respond(ctx, pkt, con, protocol.DictOf(
		"TXN", txn,
		"lkey", account.LobbyKey,
		"profileId", strconv.FormatInt(account.ID, 10),
		"userId", strconv.FormatInt(account.ID, 10),
		"personaName", persona.Name,
	))
	return nil
}

func (h *Handler) acctNuGetTos(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	countryCode, ok := pkt.Data.Lookup("countryCode")
	if !ok {
		// Fall back to the logged-in account's country.
		if s, err := h.sessions.ByConnection(ctx, con); err == nil && s != nil {
			if account, err := h.store.Accounts.FindByID(ctx, s.UserID); err == nil && account != nil {
				countryCode = account.Country
			}
		}
	}
	if countryCode == "" {
		countryCode = "US"
	}

	text, found, err := h.store.Config.Get(ctx, "TOS_TEXT_"+countryCode)
	if err != nil {
		return err
	}
	if !found {
		text, found, err = h.store.Config.Get(ctx, "TOS_TEXT_US")
		if err != nil {
			return err
		}
		if !found {
			h.fail(ctx, pkt, con, protocol.CodeNoData)
			return fmt.Errorf("NuGetTos: no terms of service text configured")
		}
	}

	version, found, err := h.store.Config.Get(ctx, "TOS_VERSION")
	if err != nil {
		return err
	}
	if !found {
		h.fail(ctx, pkt, con, protocol.CodeNoData)
		return fmt.Errorf("NuGetTos: no terms of service version configured")
	}

	h.respond(ctx, pkt, con, protocol.DictOf(
		"TXN", "NuGetTos",
		"tos", text,
		"version", version,
	))
	return nil
}

// countryList holds the ISO2 codes the game accepts at registration.
var countryList = []struct {
	code        string
	description string
}{
	{"AU", "Australia"},
	{"BE", "Belgium"},
	{"CA", "Canada"},
	{"DK", "Denmark"},
	{"FI", "Finland"},
	{"FR", "France"},
	{"IE", "Ireland"},
	{"IT", "Italy"},
	{"NL", "Netherlands"},
	{"NO", "Norway"},
	{"PL", "Poland"},
	{"PT", "Portugal"},
	{"RU", "Russian Federation"},
	{"ES", "Spain"},
	{"SE", "Sweden"},
	{"GB", "United Kingdom of Great Britain and Northern Ireland"},
	{"US", "United States of America"},
}

func (h *Handler) acctGetCountryList(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	data := protocol.DictOf("TXN", "GetCountryList")
	for i, c := range countryList {
		prefix := fmt.Sprintf("countryList.%d.", i)
		data.Set(prefix+"ISOCode", c.code)
		data.Set(prefix+"description", c.description)
		data.Set(prefix+"allowEmailsDefaultValue", "1")
		data.Set(prefix+"parentalControlAgeLimit", "1")
		data.Set(prefix+"registrationAgeLimit", "1")
	}
	// The count comes after the entries; the client reads it last.
	data.Set("countryList.[]", strconv.Itoa(len(countryList)))

	h.respond(ctx, pkt, con, data)
	return nil
}
