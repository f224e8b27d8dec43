package model

// QueuePosActive marks a participant that has entered the game; queued
// joiners carry their non-negative queue slot instead.
const QueuePosActive int32 = -1

// Participant links a persona to a game it joined or queues for. The
// expected endpoint pairs are what each peer should dial: the other
// peer's observed UDP endpoint in direct mode, or the relay's when TURN
// mediates.
type Participant struct {
	ID        int64
	GameID    int64
	PersonaID int64
	QueuePos  int32
	Ticket    string

	ClientExpectedHostPort int32
	ClientExpectedHostIP   string
	HostExpectedClientPort int32
	HostExpectedClientIP   string
}
