package transport

import (
	"net"
	"sync"

	"github.com/mordorwide/plasma/internal/protocol"
)

// Outbound is one item on a connection's write queue. A zero Packet
// with Close set tells the writer to shut the connection down.
type Outbound struct {
	Packet *protocol.Packet
	Close  bool
}

const writeQueueDepth = 32

// Registry maps connection descriptors to their write queues and UDP
// listener ports to their sockets. Handlers address peers purely by
// descriptor.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]chan Outbound

	udpMu   sync.RWMutex
	udpSock map[uint16]*net.UDPConn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[string]chan Outbound),
		udpSock: make(map[uint16]*net.UDPConn),
	}
}

// Register creates the write queue for a new TCP connection.
func (r *Registry) Register(con protocol.Descriptor) chan Outbound {
	ch := make(chan Outbound, writeQueueDepth)
	r.mu.Lock()
	r.conns[con.String()] = ch
	r.mu.Unlock()
	return ch
}

// Unregister drops the connection's write queue and closes it so the
// writer goroutine drains out. Closing under the lock excludes any
// in-flight Send.
func (r *Registry) Unregister(con protocol.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.conns[con.String()]; ok {
		delete(r.conns, con.String())
		close(ch)
	}
}

// Send queues a packet on the connection. Reports false when the
// connection is gone or its queue is full. The channel operation runs
// under the read lock so Unregister cannot close it mid-send.
func (r *Registry) Send(con protocol.Descriptor, pkt *protocol.Packet) bool {
	return r.enqueue(con.String(), Outbound{Packet: pkt})
}

// Close asks the connection's writer to shut down. Reports false when
// the connection is already gone.
func (r *Registry) Close(con protocol.Descriptor) bool {
	return r.enqueue(con.String(), Outbound{Close: true})
}

func (r *Registry) enqueue(key string, out Outbound) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.conns[key]
	if !ok {
		return false
	}
	select {
	case ch <- out:
		return true
	default:
		return false
	}
}

// CloseByHandle is Close for a raw descriptor string from the session
// table. Unparsable or empty handles are ignored.
func (r *Registry) CloseByHandle(handle string) bool {
	con, err := protocol.ParseDescriptor(handle)
	if err != nil {
		return false
	}
	return r.Close(con)
}

// RegisterUDP publishes the socket bound to a local listener port.
func (r *Registry) RegisterUDP(port uint16, sock *net.UDPConn) {
	r.udpMu.Lock()
	r.udpSock[port] = sock
	r.udpMu.Unlock()
}

// UDPSocket returns the socket bound to the local port, or nil.
func (r *Registry) UDPSocket(port uint16) *net.UDPConn {
	r.udpMu.RLock()
	defer r.udpMu.RUnlock()
	return r.udpSock[port]
}
