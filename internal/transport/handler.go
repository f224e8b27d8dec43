// Package transport runs the TCP and UDP endpoints, tracks live client
// connections and schedules outbound packet delivery.
package transport

import (
	"context"

	"github.com/mordorwide/plasma/internal/protocol"
)

// Handler consumes decoded packets from a service endpoint.
type Handler interface {
	// Service tags connections created for this handler.
	Service() protocol.Service

	// HandlePacket processes one inbound packet. Returned errors are
	// logged, they never tear down the connection.
	HandlePacket(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error

	// ConnectionClosed runs after a TCP connection goes away.
	ConnectionClosed(ctx context.Context, con protocol.Descriptor)
}
