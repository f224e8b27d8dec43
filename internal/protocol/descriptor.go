package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Proto is the transport a descriptor refers to.
type Proto string

const (
	ProtoTCP       Proto = "tcp"
	ProtoUDP       Proto = "udp"
	ProtoRemoteUDP Proto = "remoteudp"
)

// Service distinguishes the two protocol families a port serves.
type Service string

const (
	ServiceFesl    Service = "fesl"
	ServiceTheater Service = "theater"
)

// Descriptor identifies one client connection across all transports.
// Its canonical string form,
// <proto>+<service>@<local-port>://<peer-ip>:<peer-port>, is used as the
// registry key and is persisted on sessions as the transport handle.
type Descriptor struct {
	Proto     Proto
	Service   Service
	LocalPort uint16
	PeerIP    string
	PeerPort  uint16
}

// NewDescriptor builds a descriptor from its parts.
func NewDescriptor(proto Proto, service Service, localPort uint16, peerIP string, peerPort uint16) Descriptor {
	return Descriptor{
		Proto:     proto,
		Service:   service,
		LocalPort: localPort,
		PeerIP:    peerIP,
		PeerPort:  peerPort,
	}
}

// String renders the canonical descriptor form.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s+%s@%d://%s:%d", d.Proto, d.Service, d.LocalPort, d.PeerIP, d.PeerPort)
}

// IsZero reports whether d is the empty descriptor.
func (d Descriptor) IsZero() bool {
	return d == Descriptor{}
}

// ParseDescriptor parses the canonical descriptor form.
func ParseDescriptor(s string) (Descriptor, error) {
	head, addr, ok := strings.Cut(s, "@")
	if !ok {
		return Descriptor{}, fmt.Errorf("descriptor %q: missing '@'", s)
	}
	protoStr, serviceStr, ok := strings.Cut(head, "+")
	if !ok {
		return Descriptor{}, fmt.Errorf("descriptor %q: missing '+'", s)
	}

	var proto Proto
	switch protoStr {
	case "tcp":
		proto = ProtoTCP
	case "udp":
		proto = ProtoUDP
	case "remoteudp":
		proto = ProtoRemoteUDP
	default:
		return Descriptor{}, fmt.Errorf("descriptor %q: unknown proto %q", s, protoStr)
	}

	var service Service
	switch serviceStr {
	case "fesl":
		service = ServiceFesl
	case "theater":
		service = ServiceTheater
	default:
		return Descriptor{}, fmt.Errorf("descriptor %q: unknown service %q", s, serviceStr)
	}

	localStr, peer, ok := strings.Cut(addr, "://")
	if !ok {
		return Descriptor{}, fmt.Errorf("descriptor %q: missing '://'", s)
	}
	localPort, err := strconv.ParseUint(localStr, 10, 16)
	if err != nil {
		return Descriptor{}, fmt.Errorf("descriptor %q: local port: %w", s, err)
	}

	peerIP, peerPortStr, ok := cutLast(peer, ":")
	if !ok {
		return Descriptor{}, fmt.Errorf("descriptor %q: missing peer port", s)
	}
	peerPort, err := strconv.ParseUint(peerPortStr, 10, 16)
	if err != nil {
		return Descriptor{}, fmt.Errorf("descriptor %q: peer port: %w", s, err)
	}

	return Descriptor{
		Proto:     proto,
		Service:   service,
		LocalPort: uint16(localPort),
		PeerIP:    peerIP,
		PeerPort:  uint16(peerPort),
	}, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
