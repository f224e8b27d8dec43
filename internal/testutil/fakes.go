package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mordorwide/plasma/internal/protocol"
)

// SentPacket is one packet captured by the fake submitter.
type SentPacket struct {
	Packet *protocol.Packet
	Con    protocol.Descriptor
	Delay  time.Duration
}

// FakeSubmitter records outbound packets instead of delivering them.
type FakeSubmitter struct {
	mu   sync.Mutex
	sent []SentPacket
}

// Submit captures the packet.
func (f *FakeSubmitter) Submit(_ context.Context, pkt *protocol.Packet, con protocol.Descriptor, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentPacket{Packet: pkt, Con: con, Delay: delay})
}

// Sent returns a snapshot of the captured packets.
func (f *FakeSubmitter) Sent() []SentPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentPacket, len(f.sent))
	copy(out, f.sent)
	return out
}

// Reset drops everything captured so far.
func (f *FakeSubmitter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// Last returns the most recently captured packet and fails the test when
// nothing was sent.
func (f *FakeSubmitter) Last(t *testing.T) SentPacket {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no packets submitted")
	}
	return f.sent[len(f.sent)-1]
}

// FakeConnCloser records the handles it was asked to close.
type FakeConnCloser struct {
	mu     sync.Mutex
	Closed []string
}

// CloseByHandle records the handle and reports success.
func (f *FakeConnCloser) CloseByHandle(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = append(f.Closed, handle)
	return true
}
