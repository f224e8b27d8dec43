package fesl

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mordorwide/plasma/internal/protocol"
)

const partitionKey = "online_content"

func (h *Handler) assoGetAssociations(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s == nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("GetAssociations: no session on %s", con.String())
	}

	ownerID := pkt.Data.Get("owner.id")
	if ownerID != strconv.FormatInt(s.UserID, 10) {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("GetAssociations: owner.id %q does not match session user %d", ownerID, s.UserID)
	}

	assoType := pkt.Data.Get("type")

	// The lists themselves are not persisted; every query sees an empty
	// association set.
	data := protocol.DictOf(
		"TXN", "GetAssociations",
		"domainPartition.domain", domainPartition,
		"domainPartition.subDomain", subDomainPartition,
		"domainPartition.key", partitionKey,
		"owner.id", ownerID,
		"owner.type", pkt.Data.Get("owner.type"),
		"type", assoType,
		"members.[]", "0",
	)
	if assoType == "PlasmaMute" {
		account, err := h.store.Accounts.FindByID(ctx, s.UserID)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("GetAssociations: account %d missing", s.UserID)
		}
		data.Set("maxListSize", "100")
		data.Set("owner.name", account.Email)
	}

	h.respond(ctx, pkt, con, data)
	return nil
}

func (h *Handler) assoAddAssociations(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s == nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("AddAssociations: no session on %s", con.String())
	}

	ownerID := pkt.Data.Get("owner.id")
	if ownerID != strconv.FormatInt(s.UserID, 10) {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("AddAssociations: owner.id %q does not match session user %d", ownerID, s.UserID)
	}

	assoType := pkt.Data.Get("type")
	maxListSize := 100
	if assoType == "PlasmaRecentPlayers" {
		maxListSize = 20
	}

	// The additions are acknowledged but not stored.
	h.respond(ctx, pkt, con, protocol.DictOf(
		"TXN", "AddAssociations",
		"domainPartition.domain", domainPartition,
		"domainPartition.subDomain", pkt.Data.Get("domainPartition.key"),
		"domainPartition.key", pkt.Data.Get("domainPartition.key"),
		"type", assoType,
		"maxListSize", strconv.Itoa(maxListSize),
		"result.[]", "0",
	))
	return nil
}
