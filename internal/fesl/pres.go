package fesl

import (
	"context"
	"fmt"

	"github.com/mordorwide/plasma/internal/protocol"
)

func (h *Handler) presSetPresenceStatus(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	// The game only ever reports the disconnect status.
	if show := pkt.Data.Get("status.show"); show != "disc" {
		return fmt.Errorf("SetPresenceStatus: unexpected status.show %q", show)
	}

	h.respond(ctx, pkt, con, protocol.DictOf("TXN", "SetPresenceStatus"))
	return nil
}
