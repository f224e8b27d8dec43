package theater

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/protocol"
)

// defaultGamePort is the port the game binds on every platform.
const defaultGamePort = 11900

// theaterUDPPort is where the echo probes land; the Xbox path assumes
// its traffic originates there.
const theaterUDPPort = 18885

// handleEGAM runs the client half of the join handshake: pick the game,
// settle the NAT question, decide whether the TURN relay has to bridge
// the pair, record the membership and forward the request to the host.
func (h *Handler) handleEGAM(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	var game *model.Game
	if gid, ok := pkt.Data.Lookup("GID"); ok {
		gameID, err := strconv.ParseInt(gid, 10, 64)
		if err != nil {
			h.fail(ctx, pkt, con, protocol.CodeNoData, "")
			return fmt.Errorf("EGAM: GID: %w", err)
		}
		game, err = h.store.Games.FindByID(ctx, gameID)
		if err != nil {
			return err
		}
		if game == nil {
			h.fail(ctx, pkt, con, protocol.CodeNoData, "")
			return fmt.Errorf("EGAM: game %d not found", gameID)
		}
	} else {
		// No GID means the client wants to join the game a named
		// persona hosts.
		hostName := pkt.Data.Get("USER")
		hostPersona, err := h.store.Personas.FindByName(ctx, hostName)
		if err != nil {
			return err
		}
		if hostPersona == nil {
			h.fail(ctx, pkt, con, protocol.CodeNoData, "")
			return fmt.Errorf("EGAM: host persona %q not found", hostName)
		}
		game, err = h.store.Games.FindByPersona(ctx, hostPersona.ID)
		if err != nil {
			return err
		}
		if game == nil {
			h.fail(ctx, pkt, con, protocol.CodeNoData, "")
			return fmt.Errorf("EGAM: persona %q hosts no game", hostName)
		}
	}

	if game.JoinMode != "O" {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("EGAM: game %d is not open for joining", game.ID)
	}

	tid := pkt.Data.Get("TID")
	lid := strconv.FormatInt(int64(game.LobbyID), 10)
	gid := strconv.FormatInt(game.ID, 10)

	nPlayers, err := h.store.Participants.Count(ctx, game.ID)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return err
	}
	openSlots := max(0, int64(game.MaxPlayers)-nPlayers)
	queueLen := max(0, nPlayers-int64(game.MaxPlayers))
	canJoin := openSlots > 0

	data := protocol.DictOf(
		"TID", tid,
		"LID", lid,
		"GID", gid,
	)
	if !canJoin {
		data.Set("QLEN", strconv.FormatInt(queueLen, 10))
		data.Set("QPOS", strconv.FormatInt(queueLen, 10))
	}
	h.reply(ctx, con, pkt.Category, pkt.ID, data)

	remoteIntIP, remoteIntPort, err := h.remoteInternal(ctx, pkt, con)
	if err != nil {
		return err
	}

	clientSession, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if clientSession == nil {
		return fmt.Errorf("EGAM: no session on %s", con.String())
	}
	clientPersona, err := h.store.Personas.FindByID(ctx, clientSession.PersonaID)
	if err != nil {
		return err
	}
	if clientPersona == nil {
		return fmt.Errorf("EGAM: session %d has no persona", clientSession.ID)
	}
	clientAccount, err := h.store.Accounts.FindByID(ctx, clientSession.UserID)
	if err != nil {
		return err
	}
	if clientAccount == nil {
		return fmt.Errorf("EGAM: account %d missing", clientSession.UserID)
	}

	hostSession, err := h.store.Sessions.FindByPersona(ctx, game.PersonaID)
	if err != nil {
		return err
	}
	if hostSession == nil {
		return fmt.Errorf("EGAM: host persona %d has no session", game.PersonaID)
	}
	hostAccount, err := h.store.Accounts.FindByID(ctx, hostSession.UserID)
	if err != nil {
		return err
	}
	if hostAccount == nil {
		return fmt.Errorf("EGAM: host account %d missing", hostSession.UserID)
	}

	enterOwnGame := clientSession.PersonaID == game.PersonaID

	// Joining clients advertise their game port here, which is the last
	// chance to soften a strict classification before the relay decision.
	if !enterOwnGame && clientSession.NatType == model.NatStrict {
		advertised, err := strconv.Atoi(pkt.Data.Get("PORT"))
		if err == nil {
			if udp, err := protocol.ParseDescriptor(clientSession.TheaterUDPHandle); err == nil {
				if int(udp.PeerPort) == advertised && int(udp.PeerPort) == defaultGamePort {
					if err := h.store.Sessions.SetNatType(ctx, clientSession.ID, model.NatModerate); err != nil {
						return err
					}
				}
			}
		}
	}
	clientSession, err = h.store.Sessions.FindByID(ctx, clientSession.ID)
	if err != nil {
		return err
	}
	if clientSession == nil {
		return fmt.Errorf("EGAM: client session vanished")
	}

	hostCon, err := protocol.ParseDescriptor(hostSession.TheaterTCPHandle)
	if err != nil {
		return fmt.Errorf("EGAM: host theater handle: %w", err)
	}
	hostUDP, err := protocol.ParseDescriptor(hostSession.TheaterUDPHandle)
	if err != nil {
		return fmt.Errorf("EGAM: host udp handle: %w", err)
	}
	clientUDP, err := protocol.ParseDescriptor(clientSession.TheaterUDPHandle)
	if err != nil {
		return fmt.Errorf("EGAM: client udp handle: %w", err)
	}

	// Default to the observed endpoints; a relayed bridge overrides both.
	hostExpectedClientIP := clientUDP.PeerIP
	hostExpectedClientPort := int(clientUDP.PeerPort)
	clientExpectedHostIP := hostUDP.PeerIP
	clientExpectedHostPort := int(hostUDP.PeerPort)

	if !enterOwnGame && h.turn.Enabled() {
		// The pair connects directly when the host is openly reachable,
		// or when a moderate host meets a client that is not strict.
		needTurn := true
		if hostSession.NatType == model.NatOpen {
			needTurn = false
		}
		if hostSession.NatType == model.NatModerate &&
			(clientSession.NatType == model.NatModerate || clientSession.NatType == model.NatOpen) {
			needTurn = false
		}
		needTurn = needTurn || hostAccount.ForceServerTURN || clientAccount.ForceClientTURN

		if needTurn {
			relayPort0, relayPort1, err := h.turn.Launch(ctx,
				clientUDP.PeerIP, int(clientUDP.PeerPort),
				hostUDP.PeerIP, int(hostUDP.PeerPort))
			if err != nil {
				return fmt.Errorf("EGAM: launching turn bridge: %w", err)
			}
			hostExpectedClientIP = h.turn.ExternalIP()
			hostExpectedClientPort = relayPort1
			clientExpectedHostIP = h.turn.ExternalIP()
			clientExpectedHostPort = relayPort0
			h.log.Info("turn bridge allocated",
				"game", game.ID, "client", clientPersona.Name,
				"clientPort", relayPort0, "hostPort", relayPort1)
		}
	}

	ticket := uuid.NewString()
	_, err = h.store.Participants.Create(ctx, &model.Participant{
		GameID:                 game.ID,
		PersonaID:              clientSession.PersonaID,
		QueuePos:               int32(queueLen),
		Ticket:                 ticket,
		ClientExpectedHostIP:   clientExpectedHostIP,
		ClientExpectedHostPort: int32(clientExpectedHostPort),
		HostExpectedClientIP:   hostExpectedClientIP,
		HostExpectedClientPort: int32(hostExpectedClientPort),
	})
	if err != nil {
		return fmt.Errorf("EGAM: recording membership: %w", err)
	}

	pid := strconv.FormatInt(clientPersona.ID, 10)
	uid := strconv.FormatInt(clientAccount.ID, 10)

	if canJoin {
		h.reply(ctx, hostCon, protocol.CategoryEGRQ, 0, protocol.DictOf(
			"R-INT-PORT", remoteIntPort,
			"R-INT-IP", remoteIntIP,
			"IP", hostExpectedClientIP,
			"PORT", strconv.Itoa(hostExpectedClientPort),
			"NAME", clientPersona.Name,
			"PTYPE", "P",
			"TICKET", ticket,
			"PID", pid,
			"UID", uid,
			"LID", lid,
			"GID", gid,
		))
	} else {
		// Untested in the wild, the game never fills its slots enough
		// to queue.
		queue := protocol.NewPacket(protocol.CategoryQENT, protocol.ModeTheaterRequest, 0, protocol.DictOf(
			"R-INT-PORT", remoteIntPort,
			"R-INT-IP", remoteIntIP,
			"NAME", clientPersona.Name,
			"PID", pid,
			"UID", uid,
			"LID", lid,
			"GID", gid,
		))
		h.submit.Submit(ctx, queue, hostCon, 0)
	}
	return nil
}

// remoteInternal extracts the joining client's self-reported internal
// endpoint. Xbox clients report an XNADDR blob instead; its decoded
// external address also stands in for the UDP probe the console never
// sends, and such clients count as openly reachable.
func (h *Handler) remoteInternal(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) (ip, port string, err error) {
	if !pkt.Data.Has("R-INT-IP") && !pkt.Data.Has("R-INT-PORT") && pkt.Data.Has("R-XNADDR") {
		raw, err := base64.StdEncoding.DecodeString(pkt.Data.Get("R-XNADDR"))
		if err != nil || len(raw) < 8 {
			return "", "", fmt.Errorf("EGAM: bad R-XNADDR: %w", err)
		}
		intIP := fmt.Sprintf("%d.%d.%d.%d", raw[0], raw[1], raw[2], raw[3])
		extIP := fmt.Sprintf("%d.%d.%d.%d", raw[4], raw[5], raw[6], raw[7])

		s, err := h.sessions.ByConnection(ctx, con)
		if err != nil {
			return "", "", err
		}
		if s == nil {
			return "", "", fmt.Errorf("EGAM: no session on %s", con.String())
		}
		assumed := protocol.NewDescriptor(protocol.ProtoUDP, protocol.ServiceTheater,
			theaterUDPPort, extIP, defaultGamePort)
		if err := h.store.Sessions.SetHandle(ctx, s.ID, model.HandleTheaterUDP, assumed.String()); err != nil {
			return "", "", err
		}
		if err := h.store.Sessions.SetNatType(ctx, s.ID, model.NatOpen); err != nil {
			return "", "", err
		}
		return intIP, strconv.Itoa(defaultGamePort), nil
	}
	return pkt.Data.Get("R-INT-IP"), pkt.Data.Get("R-INT-PORT"), nil
}

// handleEGRS relays the host's verdict on a pending join. An allowed
// join sends the client its EGEG marching orders; a refused one silently
// drops the membership.
func (h *Handler) handleEGRS(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	lid := pkt.Data.Get("LID")
	tid := pkt.Data.Get("TID")
	gid := pkt.Data.Get("GID")
	pid := pkt.Data.Get("PID")
	allowed := true
	if v, ok := pkt.Data.Lookup("ALLOWED"); ok {
		allowed = v == "1"
	}

	h.reply(ctx, con, pkt.Category, 0, protocol.DictOf("TID", tid))

	gameID, err := strconv.ParseInt(gid, 10, 64)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("EGRS: GID: %w", err)
	}
	game, err := h.store.Games.FindByID(ctx, gameID)
	if err != nil {
		return err
	}
	if game == nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("EGRS: game %d not found", gameID)
	}

	hostPersona, err := h.store.Personas.FindByID(ctx, game.PersonaID)
	if err != nil {
		return err
	}
	if hostPersona == nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("EGRS: host persona %d missing", game.PersonaID)
	}

	personaID, err := strconv.ParseInt(pid, 10, 64)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("EGRS: PID: %w", err)
	}
	participant, err := h.store.Participants.Find(ctx, gameID, personaID)
	if err != nil {
		return err
	}
	if participant == nil {
		return fmt.Errorf("EGRS: persona %d holds no membership in game %d", personaID, gameID)
	}

	clientSession, err := h.store.Sessions.FindByPersona(ctx, participant.PersonaID)
	if err != nil {
		return err
	}
	if clientSession == nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("EGRS: persona %d has no session", participant.PersonaID)
	}

	if !allowed {
		if err := h.store.Participants.Delete(ctx, participant.ID); err != nil {
			return err
		}
		return fmt.Errorf("EGRS: host refused persona %d for game %d", personaID, gameID)
	}

	clientCon, err := protocol.ParseDescriptor(clientSession.TheaterTCPHandle)
	if err != nil {
		return fmt.Errorf("EGRS: client theater handle: %w", err)
	}

	h.reply(ctx, clientCon, protocol.CategoryEGEG, 0, protocol.DictOf(
		"PL", "pc",
		"TICKET", participant.Ticket,
		"PID", pid,
		"P", strconv.FormatInt(int64(participant.ClientExpectedHostPort), 10),
		"HUID", strconv.FormatInt(hostPersona.UserID, 10),
		"INT-PORT", strconv.FormatInt(int64(game.InternalPort), 10),
		"EKEY", game.EncryptionKey,
		"INT-IP", game.InternalIP,
		"UGID", game.UserGroupID,
		"I", participant.ClientExpectedHostIP,
		"LID", lid,
		"GID", gid,
	))
	return nil
}

// handlePENT marks a joiner as an active player once the host reports
// them in.
func (h *Handler) handlePENT(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	tid := pkt.Data.Get("TID")
	pid := pkt.Data.Get("PID")

	personaID, err := strconv.ParseInt(pid, 10, 64)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("PENT: PID: %w", err)
	}
	gameID, err := strconv.ParseInt(pkt.Data.Get("GID"), 10, 64)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("PENT: GID: %w", err)
	}
	game, err := h.store.Games.FindByID(ctx, gameID)
	if err != nil {
		return err
	}
	if game == nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("PENT: game %d not found", gameID)
	}
	participant, err := h.store.Participants.Find(ctx, gameID, personaID)
	if err != nil {
		return err
	}
	if participant == nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("PENT: persona %d holds no membership in game %d", personaID, gameID)
	}
	if err := h.store.Participants.MarkActive(ctx, participant.ID); err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return err
	}

	clientSession, err := h.store.Sessions.FindByPersona(ctx, personaID)
	if err != nil {
		return err
	}
	if clientSession == nil {
		return fmt.Errorf("PENT: persona %d has no session", personaID)
	}

	h.reply(ctx, con, pkt.Category, 0, protocol.DictOf(
		"TID", tid,
		"PID", pid,
	))
	return nil
}

// handlePLVT drops a membership when the host reports a player leaving.
// The membership may already be gone; that is not an error.
func (h *Handler) handlePLVT(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	tid := pkt.Data.Get("TID")

	personaID, err := strconv.ParseInt(pkt.Data.Get("PID"), 10, 64)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("PLVT: PID: %w", err)
	}
	gameID, err := strconv.ParseInt(pkt.Data.Get("GID"), 10, 64)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("PLVT: GID: %w", err)
	}

	if err := h.store.Participants.DeleteMembership(ctx, gameID, personaID); err != nil {
		return err
	}

	h.reply(ctx, con, pkt.Category, 0, protocol.DictOf("TID", tid))
	return nil
}

// handleECNL drops the connection's own membership when the client
// cancels a join.
func (h *Handler) handleECNL(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	tid := pkt.Data.Get("TID")
	lid := pkt.Data.Get("LID")
	gid := pkt.Data.Get("GID")

	gameID, err := strconv.ParseInt(gid, 10, 64)
	if err != nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("ECNL: GID: %w", err)
	}
	game, err := h.store.Games.FindByID(ctx, gameID)
	if err != nil {
		return err
	}
	if game == nil {
		h.fail(ctx, pkt, con, protocol.CodeNoData, "")
		return fmt.Errorf("ECNL: game %d not found", gameID)
	}

	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s == nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail, "")
		return fmt.Errorf("ECNL: no session on %s", con.String())
	}

	if err := h.store.Participants.DeleteMembership(ctx, gameID, s.PersonaID); err != nil {
		return err
	}

	h.reply(ctx, con, pkt.Category, pkt.ID, protocol.DictOf(
		"TID", tid,
		"LID", lid,
		"GID", gid,
	))
	return nil
}
