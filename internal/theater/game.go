package theater

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/protocol"
	"github.com/mordorwide/plasma/internal/validate"
)

// Placeholders advertised for the unsupported game-encryption fields.
// The EKEY spelling is what the client shipped with.
const (
	placeholderEncryptionKey = "NOENCYRPTIONKEY"
	placeholderUserGroupID   = "NOGUID"
	placeholderSecret        = "NOSECRET"
)

// handleCGAM registers a new game advertisement for the connection's
// persona.
func (h *Handler) handleCGAM(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	tid := pkt.Data.Get("TID")

	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s == nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("CGAM: no session on %s", con.String())
	}
	persona, err := h.store.Personas.FindByID(ctx, s.PersonaID)
	if err != nil {
		return err
	}
	if persona == nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("CGAM: session %d has no persona", s.ID)
	}

	// Dedicated hosts advertise under an arbitrary name, everyone else
	// under their persona. Both pass through the same name rules.
	name := pkt.Data.Get("NAME")
	if err := validate.GameName(name); err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("CGAM: game name %q: %w", name, err)
	}
	taken, err := h.store.Games.NameExists(ctx, name)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return err
	}
	if taken {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("CGAM: game name %q already advertised", name)
	}

	port, err := atoi32(pkt.Data.Get("PORT"))
	if err != nil {
		return fmt.Errorf("CGAM: PORT: %w", err)
	}
	intPort, err := atoi32(pkt.Data.Get("INT-PORT"))
	if err != nil {
		return fmt.Errorf("CGAM: INT-PORT: %w", err)
	}
	queueLen, err := atoi32(pkt.Data.Get("QLEN"))
	if err != nil {
		return fmt.Errorf("CGAM: QLEN: %w", err)
	}
	maxPlayers, err := atoi32(pkt.Data.Get("MAX-PLAYERS"))
	if err != nil {
		return fmt.Errorf("CGAM: MAX-PLAYERS: %w", err)
	}
	maxObservers, err := atoi32(pkt.Data.Get("B-maxObservers"))
	if err != nil {
		return fmt.Errorf("CGAM: B-maxObservers: %w", err)
	}

	// The advertised external port settles the NAT question left open by
	// the echo probes: matching internal, external and observed ports
	// means the strict classification was too pessimistic.
	if s.NatType == model.NatStrict {
		if udp, err := protocol.ParseDescriptor(s.TheaterUDPHandle); err == nil {
			if int32(udp.PeerPort) == port && int32(udp.PeerPort) == intPort {
				if err := h.store.Sessions.SetNatType(ctx, s.ID, model.NatModerate); err != nil {
					return err
				}
			}
		}
	}

	joinMode := pkt.Data.Get("JOIN")
	hxfr := pkt.Data.Get("HXFR")

	game := &model.Game{
		LobbyID:            lobbyID,
		ReserveHost:        pkt.Data.Get("RESERVE-HOST") == "1",
		Name:               name,
		PersonaID:          s.PersonaID,
		Port:               port,
		HostType:           pkt.Data.Get("HTTYPE"),
		GameType:           pkt.Data.Get("TYPE"),
		QueueLength:        queueLen,
		DisableAutoDequeue: pkt.Data.Get("DISABLE-AUTO-DEQUEUE") == "1",
		HXFR:               hxfr,
		InternalPort:       intPort,
		InternalIP:         pkt.Data.Get("INT-IP"),
		MaxPlayers:         maxPlayers,
		MaxObservers:       maxObservers,
		UserGroupID:        placeholderUserGroupID,
		Secret:             placeholderSecret,
		UserFriendsOnly:    pkt.Data.Get("B-U-FriendsOnly") == "1",
		UserPCDedicated:    pkt.Data.Get("B-U-PCDedicated") == "1",
		UserPlaymode:       pkt.Data.Get("B-U-PlayMode"),
		UserRanked:         pkt.Data.Get("B-U-Ranked") == "1",
		ClientVersion:      pkt.Data.Get("B-U-Version"),
		ServerVersion:      pkt.Data.Get("B-version"),
		JoinMode:           joinMode,
		RT:                 pkt.Data.Get("RT"),
		EncryptionKey:      placeholderEncryptionKey,
		OtherAsJSON:        "{}",
	}
	gameID, err := h.store.Games.Create(ctx, game)
	if err != nil {
		return fmt.Errorf("CGAM: creating game: %w", err)
	}

	h.reply(ctx, con, pkt.Category, pkt.ID, protocol.DictOf(
		"TID", tid,
		"MAX-PLAYERS", strconv.FormatInt(int64(maxPlayers), 10),
		"EKEY", placeholderEncryptionKey,
		"UGID", placeholderUserGroupID,
		"JOIN", joinMode,
		"LID", strconv.FormatInt(int64(lobbyID), 10),
		"SECRET", placeholderSecret,
		"J", joinMode,
		"GID", strconv.FormatInt(gameID, 10),
		"HXFR", hxfr,
	))
	return nil
}

// handleUGAM applies a host's in-place game update. Keys without a
// dedicated column accumulate in the game's JSON overflow field and come
// back out verbatim in game listings.
func (h *Handler) handleUGAM(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	tid := pkt.Data.Get("TID")
	gameID, err := strconv.ParseInt(pkt.Data.Get("GID"), 10, 64)
	if err != nil {
		return fmt.Errorf("UGAM: GID: %w", err)
	}
	game, err := h.store.Games.FindByID(ctx, gameID)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("UGAM: game %d not found", gameID)
	}

	others := map[string]string{}
	if game.OtherAsJSON != "" {
		_ = json.Unmarshal([]byte(game.OtherAsJSON), &others)
	}
	othersTouched := false

	for _, key := range pkt.Data.Keys() {
		value := pkt.Data.Get(key)
		switch key {
		case "LID", "GID", "TID":
		case "B-numObservers":
			// Observers are not supported.
		case "JOIN":
			game.JoinMode = value
		case "B-maxObservers":
			n, err := atoi32(value)
			if err != nil {
				return fmt.Errorf("UGAM: B-maxObservers: %w", err)
			}
			game.MaxObservers = n
		case "MAX-PLAYERS":
			n, err := atoi32(value)
			if err != nil {
				return fmt.Errorf("UGAM: MAX-PLAYERS: %w", err)
			}
			game.MaxPlayers = n
		case "NAME":
			game.Name = value
		case "B-U-LevelKey":
			game.UserLevelKey = value
		case "B-U-LevelName":
			game.UserLevelName = value
		case "B-U-Mode":
			game.UserMode = value
		case "B-U-FriendsOnly":
			game.UserFriendsOnly = value == "1"
		case "B-U-Ranked":
			game.UserRanked = value == "1"
		case "B-U-DLC":
			game.UserDLC = value
		default:
			others[key] = value
			othersTouched = true
			h.log.Debug("UGAM overflow key", "game", gameID, "key", key, "value", value)
		}
	}
	if othersTouched {
		encoded, err := json.Marshal(others)
		if err != nil {
			return fmt.Errorf("UGAM: encoding overflow keys: %w", err)
		}
		game.OtherAsJSON = string(encoded)
	}

	if err := h.store.Games.Update(ctx, game); err != nil {
		return err
	}

	h.reply(ctx, con, pkt.Category, 0, protocol.DictOf("TID", tid))
	return nil
}

// handleUBRA acknowledges the bracket the host opens around a burst of
// UGAM updates. Nothing is locked, the updates are applied as they come.
func (h *Handler) handleUBRA(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	h.reply(ctx, con, pkt.Category, 0, protocol.DictOf("TID", pkt.Data.Get("TID")))
	return nil
}

// handleRGAM withdraws a game advertisement and its memberships.
func (h *Handler) handleRGAM(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	tid := pkt.Data.Get("TID")
	gameID, err := strconv.ParseInt(pkt.Data.Get("GID"), 10, 64)
	if err != nil {
		return fmt.Errorf("RGAM: GID: %w", err)
	}

	if err := h.store.Participants.DeleteByGame(ctx, gameID); err != nil {
		return err
	}
	if err := h.store.Games.Delete(ctx, gameID); err != nil {
		return err
	}

	h.reply(ctx, con, pkt.Category, 0, protocol.DictOf("TID", tid))
	return nil
}

// handleGLST sends the lobby's game list: a summary packet, then one
// GDAT per public game.
func (h *Handler) handleGLST(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	tid := pkt.Data.Get("TID")
	lid := pkt.Data.Get("LID")
	lidInt, err := strconv.ParseInt(lid, 10, 32)
	if err != nil {
		return fmt.Errorf("GLST: LID: %w", err)
	}

	games, err := h.store.Games.ListPublicInLobby(ctx, int32(lidInt))
	if err != nil {
		return err
	}
	numGames := strconv.Itoa(len(games))

	h.reply(ctx, con, pkt.Category, 0, protocol.DictOf(
		"TID", tid,
		"LID", lid,
		"LOBBY-NUM-GAMES", numGames,
		"LOBBY-MAX-GAMES", strconv.Itoa(lobbyMaxGames),
		"FAVORITE-GAMES", "0",
		"FAVORITE-PLAYERS", "0",
		"NUM-GAMES", numGames,
	))

	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("GLST: no session on %s", con.String())
	}

	for i := range games {
		game := &games[i]
		active, err := h.store.Participants.CountActive(ctx, game.ID)
		if err != nil {
			return err
		}
		h.reply(ctx, con, protocol.CategoryGDAT, 0, h.gameData(tid, lid, game, active, con))
	}
	return nil
}

// gameData renders one GDAT entry. The advertised host address is the
// browsing client's own external IP: every reachable host shares it
// through the relays anyway, and the game only shows it.
func (h *Handler) gameData(tid, lid string, game *model.Game, activePlayers int64, con protocol.Descriptor) *protocol.Dict {
	data := protocol.DictOf(
		"TID", tid,
		"LID", lid,
		"GID", strconv.FormatInt(game.ID, 10),
		"HN", game.Name,
		"HU", strconv.FormatInt(game.PersonaID, 10),
		"N", game.Name,
		"I", con.PeerIP,
		"P", strconv.FormatInt(int64(game.Port), 10),
		"MP", strconv.FormatInt(int64(game.MaxPlayers), 10),
		"AP", strconv.FormatInt(activePlayers, 10),
		"QP", "0",
		"F", "0",
		"NF", "0",
		"J", game.JoinMode,
		"JP", "0",
		"TYPE", game.GameType,
		"PW", "0",
		"B-version", game.ServerVersion,
		"B-numObservers", "0",
		"B-maxObservers", strconv.FormatInt(int64(game.MaxObservers), 10),
	)
	if game.UserLevelKey != "" {
		data.Set("B-U-LevelKey", game.UserLevelKey)
	}
	if game.UserLevelName != "" {
		data.Set("B-U-LevelName", game.UserLevelName)
	}
	if game.UserMode != "" {
		data.Set("B-U-Mode", game.UserMode)
	}
	if game.UserRanked {
		data.Set("B-U-Ranked", "1")
	}
	if game.UserPCDedicated {
		data.Set("B-U-PCDedicated", "1")
	}
	if game.UserDLC != "" {
		data.Set("B-U-DLC", game.UserDLC)
	}

	// Overflow keys stored by UGAM, either as a flat object or as an
	// array of objects.
	if game.OtherAsJSON != "" {
		flattenOther(gjson.Parse(game.OtherAsJSON), data)
	}
	return data
}

func flattenOther(parsed gjson.Result, data *protocol.Dict) {
	switch {
	case parsed.IsObject():
		parsed.ForEach(func(key, value gjson.Result) bool {
			data.Set(key.String(), value.String())
			return true
		})
	case parsed.IsArray():
		parsed.ForEach(func(_, item gjson.Result) bool {
			flattenOther(item, data)
			return true
		})
	}
}

func atoi32(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}
