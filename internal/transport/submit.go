package transport

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/mordorwide/plasma/internal/protocol"
	"github.com/mordorwide/plasma/internal/relay"
)

// Submitter delivers outbound packets. TCP goes through the registry
// write queues, UDP through the listener sockets, and remote-UDP
// through the external STUN relay.
type Submitter struct {
	registry *Registry
	stun     *relay.STUNClient
	log      *slog.Logger
}

// NewSubmitter wires a submitter to the registry and relay client.
func NewSubmitter(registry *Registry, stun *relay.STUNClient, log *slog.Logger) *Submitter {
	return &Submitter{registry: registry, stun: stun, log: log}
}

// Submit schedules pkt for delivery to con after delay. Delivery runs
// in its own goroutine so handlers never block on a slow peer.
func (s *Submitter) Submit(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor, delay time.Duration) {
	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		s.deliver(ctx, pkt, con)
	}()
}

func (s *Submitter) deliver(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) {
	switch con.Proto {
	case protocol.ProtoTCP:
		if !s.registry.Send(con, pkt) {
			s.log.Warn("dropping packet for unknown tcp connection",
				"con", con.String(), "packet", pkt)
		}
	case protocol.ProtoUDP:
		s.deliverUDP(pkt, con)
	case protocol.ProtoRemoteUDP:
		s.deliverRemoteUDP(ctx, pkt, con)
	default:
		s.log.Warn("dropping packet for unknown protocol", "con", con.String())
	}
}

func (s *Submitter) deliverUDP(pkt *protocol.Packet, con protocol.Descriptor) {
	peer := &net.UDPAddr{IP: net.ParseIP(con.PeerIP), Port: int(con.PeerPort)}
	if peer.IP == nil {
		s.log.Warn("dropping packet for bad peer address", "con", con.String())
		return
	}
	payload := pkt.Encode()

	if sock := s.registry.UDPSocket(con.LocalPort); sock != nil {
		if _, err := sock.WriteToUDP(payload, peer); err != nil {
			s.log.Warn("udp send failed", "con", con.String(), "error", err)
		}
		return
	}

	// No listener owns that source port. With STUN probing enabled we
	// bind a throwaway socket so the reply still leaves from the
	// configured probe port.
	if s.stun == nil || !s.stun.Enabled() {
		s.log.Warn("no udp socket for local port", "port", con.LocalPort)
		return
	}
	local := &net.UDPAddr{Port: s.stun.InternalSourcePort()}
	sock, err := net.ListenUDP("udp", local)
	if err != nil {
		s.log.Warn("binding probe socket failed", "port", local.Port, "error", err)
		return
	}
	defer sock.Close()
	if _, err := sock.WriteToUDP(payload, peer); err != nil {
		s.log.Warn("udp probe send failed", "con", con.String(), "error", err)
	}
}

func (s *Submitter) deliverRemoteUDP(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) {
	if s.stun == nil || !s.stun.Enabled() || con.LocalPort == 0 {
		s.log.Warn("dropping remote-udp packet, no relay configured", "con", con.String())
		return
	}
	err := s.stun.Send(ctx, con.PeerIP, int(con.PeerPort), int(con.LocalPort), pkt.Encode())
	if err != nil {
		s.log.Warn("stun relay send failed", "con", con.String(), "error", err)
	}
}
