package model

// NAT classification states for a session, ordered by restrictiveness.
type NatType int

const (
	NatUnknown  NatType = 0
	NatOpen     NatType = 1
	NatModerate NatType = 2
	NatStrict   NatType = 3
)

// NoPersona marks a session that has not selected a persona yet.
const NoPersona int64 = -1

// HandleKind names the three transport handles a session can hold.
type HandleKind string

const (
	HandleFeslTCP    HandleKind = "fesl_tcp"
	HandleTheaterTCP HandleKind = "theater_tcp"
	HandleTheaterUDP HandleKind = "theater_udp"
)

// Session is the live-state aggregate binding one authenticated client
// across its FESL TCP, Theater TCP and Theater UDP connections. Handle
// fields hold canonical descriptor strings, or "" while unattached.
type Session struct {
	ID        int64
	LobbyKey  string
	UserID    int64
	PersonaID int64

	FeslTCPHandle    string
	TheaterTCPHandle string
	TheaterUDPHandle string

	NatType NatType
}

// Handle returns the descriptor string stored for the given kind.
func (s *Session) Handle(kind HandleKind) string {
	switch kind {
	case HandleFeslTCP:
		return s.FeslTCPHandle
	case HandleTheaterTCP:
		return s.TheaterTCPHandle
	case HandleTheaterUDP:
		return s.TheaterUDPHandle
	}
	return ""
}
