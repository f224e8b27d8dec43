// Package theater implements the matchmaking side of the backend: game
// advertisement, lobby listings, the join handshake between host and
// client, and the UDP echo probing that classifies each client's NAT.
// Theater requests carry their category in the packet header instead of
// a TXN field, and the client acknowledges host-bound packets out of
// band, so several inbound packets arrive in response mode.
package theater

import (
	"context"
	"log/slog"
	"time"

	"github.com/mordorwide/plasma/internal/protocol"
	"github.com/mordorwide/plasma/internal/relay"
	"github.com/mordorwide/plasma/internal/session"
)

const pingInterval = 60 * time.Second

// Submitter delivers outbound packets without blocking the handler.
type Submitter interface {
	Submit(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor, delay time.Duration)
}

// Handler serves the matchmaking packet families.
type Handler struct {
	store    *session.Store
	sessions *session.Manager
	submit   Submitter
	stun     *relay.STUNClient
	turn     *relay.TURNClient
	log      *slog.Logger
}

// New creates the handler.
func New(sessions *session.Manager, submit Submitter, stun *relay.STUNClient, turn *relay.TURNClient, log *slog.Logger) *Handler {
	return &Handler{
		store:    sessions.Store(),
		sessions: sessions,
		submit:   submit,
		stun:     stun,
		turn:     turn,
		log:      log,
	}
}

// Service tags the handler for the transport layer.
func (h *Handler) Service() protocol.Service { return protocol.ServiceTheater }

// ConnectionClosed is a no-op: session teardown hangs off the account
// service connection, and the game notices dead theater links itself.
func (h *Handler) ConnectionClosed(ctx context.Context, con protocol.Descriptor) {}

// HandlePacket routes one decoded packet. Unknown categories are logged
// and ignored.
func (h *Handler) HandlePacket(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	switch pkt.Mode {
	case protocol.ModeTheaterRequest:
		switch pkt.Category {
		case protocol.CategoryCONN:
			return h.handleCONN(ctx, pkt, con)
		case protocol.CategoryUSER:
			return h.handleUSER(ctx, pkt, con)
		case protocol.CategoryECNL:
			return h.handleECNL(ctx, pkt, con)
		case protocol.CategoryLLST:
			return h.handleLLST(ctx, pkt, con)
		case protocol.CategoryCGAM:
			return h.handleCGAM(ctx, pkt, con)
		case protocol.CategoryEGAM:
			return h.handleEGAM(ctx, pkt, con)
		case protocol.CategoryEGRS:
			return h.handleEGRS(ctx, pkt, con)
		case protocol.CategoryPENT:
			return h.handlePENT(ctx, pkt, con)
		case protocol.CategoryRGAM:
			return h.handleRGAM(ctx, pkt, con)
		case protocol.CategoryGLST:
			return h.handleGLST(ctx, pkt, con)
		case protocol.CategoryUBRA:
			return h.handleUBRA(ctx, pkt, con)
		case protocol.CategoryPLVT:
			return h.handlePLVT(ctx, pkt, con)
		}
	case protocol.ModePingOrTheaterResponse:
		switch pkt.Category {
		case protocol.CategoryPING:
			h.sendPing(ctx, con, pingInterval)
			return nil
		case protocol.CategoryUGAM:
			return h.handleUGAM(ctx, pkt, con)
		case protocol.CategoryECHO:
			return h.handleECHO(ctx, pkt, con)
		}
	}
	h.log.Debug("unhandled theater packet", "con", con.String(), "packet", pkt)
	return nil
}

// reply submits a response-mode packet.
func (h *Handler) reply(ctx context.Context, con protocol.Descriptor, category string, id uint32, data *protocol.Dict) {
	h.submit.Submit(ctx, protocol.NewPacket(category, protocol.ModePingOrTheaterResponse, id, data), con, 0)
}

// fail submits the error packet for a failed request.
func (h *Handler) fail(ctx context.Context, req *protocol.Packet, con protocol.Descriptor, code int, message string) {
	h.submit.Submit(ctx, protocol.ErrorPacket(req, code, message), con, 0)
}

// sendPing schedules a keepalive probe. The client's answer re-arms the
// next one.
func (h *Handler) sendPing(ctx context.Context, con protocol.Descriptor, delay time.Duration) {
	probe := protocol.NewPacket(protocol.CategoryPING, protocol.ModeTheaterRequest, 0, nil)
	h.submit.Submit(ctx, probe, con, delay)
}
