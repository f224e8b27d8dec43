package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"

	"github.com/mordorwide/plasma/internal/protocol"
)

const readBufferSize = 4096

// TCPServer accepts client connections for one service endpoint.
type TCPServer struct {
	addr      string
	port      uint16
	tlsConfig *tls.Config
	handler   Handler
	registry  *Registry
	log       *slog.Logger
}

// NewTCPServer creates a server for the given bind address and port.
// A nil tlsConfig serves plaintext.
func NewTCPServer(addr string, port uint16, tlsConfig *tls.Config, handler Handler, registry *Registry, log *slog.Logger) *TCPServer {
	return &TCPServer{
		addr:      addr,
		port:      port,
		tlsConfig: tlsConfig,
		handler:   handler,
		registry:  registry,
		log:       log.With("service", string(handler.Service()), "port", port),
	}
}

// Run listens and serves until ctx is cancelled.
func (s *TCPServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.addr, s.port))
	if err != nil {
		return fmt.Errorf("binding tcp %s:%d: %w", s.addr, s.port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	s.log.Info("tcp listener started", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *TCPServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if s.tlsConfig != nil {
		tlsConn := tls.Server(conn, s.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			s.log.Warn("tls handshake failed", "peer", conn.RemoteAddr().String(), "error", err)
			return
		}
		conn = tlsConn
	}

	peer, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		s.log.Warn("unparsable peer address", "peer", conn.RemoteAddr().String())
		return
	}

	con := protocol.NewDescriptor(protocol.ProtoTCP, s.handler.Service(), s.port,
		peer.Addr().Unmap().String(), peer.Port())
	s.log.Info("connection accepted", "con", con.String())

	queue := s.registry.Register(con)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, con, queue)
		// A Close request or write failure also stops the reader.
		conn.Close()
	}()

	s.readLoop(ctx, conn, con)

	s.handler.ConnectionClosed(ctx, con)
	// Unregister closes the queue, which drains the writer out.
	s.registry.Unregister(con)
	<-writerDone
	s.log.Info("connection closed", "con", con.String())
}

func (s *TCPServer) writeLoop(conn net.Conn, con protocol.Descriptor, queue chan Outbound) {
	for out := range queue {
		if out.Close {
			return
		}
		s.log.Debug("sending packet", "con", con.String(), "packet", out.Packet)
		if _, err := conn.Write(out.Packet.Encode()); err != nil {
			s.log.Warn("write failed", "con", con.String(), "error", err)
			return
		}
	}
}

func (s *TCPServer) readLoop(ctx context.Context, conn net.Conn, con protocol.Descriptor) {
	var pending []byte
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.log.Debug("read ended", "con", con.String(), "error", err)
			}
			return
		}
		pending = append(pending, buf[:n]...)

		for {
			consumed, pkt, err := protocol.Decode(pending)
			if errors.Is(err, protocol.ErrShortPacket) {
				break
			}
			if err != nil {
				s.log.Warn("dropping undecodable stream", "con", con.String(), "error", err)
				return
			}
			pending = pending[consumed:]

			s.log.Debug("received packet", "con", con.String(), "packet", pkt)
			if err := s.handler.HandlePacket(ctx, pkt, con); err != nil {
				s.log.Warn("packet handling failed", "con", con.String(), "error", err)
			}
		}
	}
}
