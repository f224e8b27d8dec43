package theater

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/protocol"
)

// The one lobby every game lives in.
const (
	lobbyID       int32 = 1
	lobbyName           = "lotr-pandemic"
	lobbyLocale         = "en_US"
	lobbyMaxGames       = 1000
)

// handleCONN greets a fresh theater connection and starts its keepalive.
func (h *Handler) handleCONN(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	data := protocol.DictOf(
		"TID", pkt.Data.Get("TID"),
		"TIME", strconv.FormatInt(time.Now().Unix(), 10),
		"activityTimeoutSecs", "0",
		"PROT", pkt.Data.Get("PROT"),
	)
	h.reply(ctx, con, pkt.Category, pkt.ID, data)

	h.sendPing(ctx, con, 0)
	return nil
}

// handleUSER binds the theater connection to the session minted during
// the account-service login, identified by the lobby key.
func (h *Handler) handleUSER(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	lkey := pkt.Data.Get("LKEY")
	tid := pkt.Data.Get("TID")

	account, err := h.store.Accounts.FindByLobbyKey(ctx, lkey)
	if err != nil {
		return err
	}
	if account == nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail, "Account not found")
		return fmt.Errorf("USER: no account for lobby key on %s", con.String())
	}

	s, err := h.store.Sessions.FindByLobbyKey(ctx, lkey)
	if err != nil {
		return err
	}
	if s == nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail, "Account not found")
		return fmt.Errorf("USER: account %d has no live session", account.ID)
	}

	persona, err := h.store.Personas.FindByID(ctx, s.PersonaID)
	if err != nil {
		return err
	}
	if persona == nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail, "Account not found")
		return fmt.Errorf("USER: session %d has no persona selected", s.ID)
	}

	if err := h.store.Sessions.SetHandle(ctx, s.ID, model.HandleTheaterTCP, con.String()); err != nil {
		return err
	}

	h.reply(ctx, con, pkt.Category, pkt.ID, protocol.DictOf(
		"NAME", persona.Name,
		"TID", tid,
	))
	return nil
}

// handleLLST lists the lobbies. There is only one, but the client insists
// on browsing it: the summary packet is followed by one LDAT per lobby.
func (h *Handler) handleLLST(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	tid := pkt.Data.Get("TID")
	lid := pkt.Data.Get("LID")
	if lid == "" {
		lid = "1"
	}
	lidInt, err := strconv.ParseInt(lid, 10, 32)
	if err != nil {
		return fmt.Errorf("LLST: bad LID %q: %w", lid, err)
	}

	h.reply(ctx, con, pkt.Category, pkt.ID, protocol.DictOf(
		"TID", tid,
		"NUM-LOBBIES", "1",
	))

	numGames, err := h.store.Games.CountPublicInLobby(ctx, int32(lidInt))
	if err != nil {
		return err
	}

	h.reply(ctx, con, protocol.CategoryLDAT, pkt.ID, protocol.DictOf(
		"TID", tid,
		"LID", lid,
		"PASSING", "1",
		"NAME", lobbyName,
		"LOCALE", lobbyLocale,
		"MAX-GAMES", strconv.Itoa(lobbyMaxGames),
		"FAVORITE-GAMES", "0",
		"FAVORITE-PLAYERS", "0",
		"NUM-GAMES", strconv.FormatInt(numGames, 10),
	))
	return nil
}
