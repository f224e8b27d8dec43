package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/mordorwide/plasma/internal/protocol"
)

const maxDatagramSize = 8192

// UDPServer reads datagrams for one service endpoint. Every datagram
// carries exactly one packet.
type UDPServer struct {
	addr     string
	port     uint16
	handler  Handler
	registry *Registry
	log      *slog.Logger
}

// NewUDPServer creates a server for the given bind address and port.
func NewUDPServer(addr string, port uint16, handler Handler, registry *Registry, log *slog.Logger) *UDPServer {
	return &UDPServer{
		addr:     addr,
		port:     port,
		handler:  handler,
		registry: registry,
		log:      log.With("service", string(handler.Service()), "port", port),
	}
}

// Run binds the socket and serves until ctx is cancelled. The socket is
// published in the registry so responses leave from the same port.
func (s *UDPServer) Run(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.addr), Port: int(s.port)}
	sock, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("binding udp %s:%d: %w", s.addr, s.port, err)
	}
	defer sock.Close()
	s.registry.RegisterUDP(s.port, sock)
	s.log.Info("udp listener started", "addr", sock.LocalAddr().String())

	go func() {
		<-ctx.Done()
		sock.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, peer, err := sock.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("udp read failed", "error", err)
			continue
		}

		_, pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			s.log.Warn("dropping undecodable datagram", "peer", peer.String(), "error", err)
			continue
		}

		peerAddr, _ := netip.AddrFromSlice(peer.IP)
		con := protocol.NewDescriptor(protocol.ProtoUDP, s.handler.Service(), s.port,
			peerAddr.Unmap().String(), uint16(peer.Port))

		s.log.Debug("received packet", "con", con.String(), "packet", pkt)
		// Handlers block on store reads; keep them off the read loop so
		// one slow probe does not stall every later datagram.
		go func() {
			if err := s.handler.HandlePacket(ctx, pkt, con); err != nil {
				s.log.Warn("packet handling failed", "con", con.String(), "error", err)
			}
		}()
	}
}
