package theater

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/protocol"
)

// handleECHO classifies the client's NAT from its UDP probes and tells
// it its external endpoint.
//
// The first probe is answered from a foreign source address, via the
// remote relay when one is configured. Only an openly reachable client
// sees that answer; anyone else re-probes, and the second answer demotes
// them to strict. The strict verdict is provisional: CGAM and EGAM
// soften it to moderate once the advertised game port turns out to match
// the observed one. Probes carrying UGID and SECRET belong to a host
// that already advertised a game and run that same port comparison
// directly.
func (h *Handler) handleECHO(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	if con.Proto != protocol.ProtoUDP {
		return fmt.Errorf("ECHO: probe on non-udp connection %s", con.String())
	}

	userID, err := strconv.ParseInt(pkt.Data.Get("UID"), 10, 64)
	if err != nil {
		return fmt.Errorf("ECHO: UID: %w", err)
	}
	s, err := h.store.Sessions.FindByUser(ctx, userID)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("ECHO: user %d has no session", userID)
	}

	currentNat := s.NatType

	// Track the observed UDP endpoint. A changed endpoint between probes
	// means the NAT rewrites source ports per flow.
	udpPortChanged := false
	switch {
	case s.TheaterUDPHandle == "":
		if err := h.store.Sessions.SetHandle(ctx, s.ID, model.HandleTheaterUDP, con.String()); err != nil {
			return err
		}
	case s.TheaterUDPHandle != con.String():
		h.log.Info("udp endpoint changed between probes",
			"session", s.ID, "old", s.TheaterUDPHandle, "new", con.String())
		if err := h.store.Sessions.SetHandle(ctx, s.ID, model.HandleTheaterUDP, con.String()); err != nil {
			return err
		}
		udpPortChanged = true
	}

	data := protocol.DictOf(
		"TID", pkt.Data.Get("TID"),
		"IP", con.PeerIP,
		"PORT", strconv.Itoa(int(con.PeerPort)),
		"ERR", "0",
		"TYPE", pkt.Data.Get("TYPE"),
	)

	if pkt.Data.Has("UGID") && pkt.Data.Has("SECRET") {
		if currentNat != model.NatOpen {
			game, err := h.store.Games.FindByPersona(ctx, s.PersonaID)
			if err != nil {
				return err
			}
			if game == nil {
				return fmt.Errorf("ECHO: persona %d hosts no game", s.PersonaID)
			}
			if !udpPortChanged && game.Port == game.InternalPort && game.Port == int32(con.PeerPort) {
				if err := h.store.Sessions.SetNatType(ctx, s.ID, model.NatModerate); err != nil {
					return err
				}
			}
		}
		h.reply(ctx, con, pkt.Category, 0, data)
		return nil
	}

	switch currentNat {
	case model.NatUnknown:
		stunCon := con
		stunCon.LocalPort = uint16(h.stun.RelaySourcePort())
		if h.stun.Enabled() {
			stunCon.Proto = protocol.ProtoRemoteUDP
		}
		if err := h.store.Sessions.SetNatType(ctx, s.ID, model.NatOpen); err != nil {
			return err
		}
		h.reply(ctx, stunCon, pkt.Category, 0, data)
	case model.NatOpen:
		// The first answer never arrived, so the NAT filters foreign
		// sources. Whether it also rewrites ports is settled later.
		if err := h.store.Sessions.SetNatType(ctx, s.ID, model.NatStrict); err != nil {
			return err
		}
		h.reply(ctx, con, pkt.Category, 0, data)
	default:
		h.reply(ctx, con, pkt.Category, 0, data)
	}
	return nil
}
