package theater

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mordorwide/plasma/internal/config"
	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/protocol"
)

func echoProbe(uid string) *protocol.Packet {
	return theaterResponse(protocol.CategoryECHO,
		"TID", "1", "UID", uid, "TYPE", "1")
}

func TestECHOFirstProbeMarksOpen(t *testing.T) {
	f := newFixture(t)
	account, _, s := f.seedPlayer(t, "Frodo", clientTCP, protocol.Descriptor{})

	require.NoError(t, f.handler.HandlePacket(context.Background(), echoProbe(mustStr(account.ID)), clientUDP))

	updated := f.mem.Session(s.ID)
	assert.Equal(t, model.NatOpen, updated.NatType)
	assert.Equal(t, clientUDP.String(), updated.TheaterUDPHandle)

	sent := f.submit.Last(t)
	assert.Equal(t, protocol.CategoryECHO, sent.Packet.Category)
	assert.Equal(t, uint32(0), sent.Packet.ID)
	assert.Equal(t, clientUDP.PeerIP, sent.Packet.Data.Get("IP"))
	assert.Equal(t, "11900", sent.Packet.Data.Get("PORT"))
	assert.Equal(t, "0", sent.Packet.Data.Get("ERR"))
	assert.Equal(t, "1", sent.Packet.Data.Get("TYPE"))

	// Without a remote relay the answer leaves locally, from the probe
	// source port.
	assert.Equal(t, protocol.ProtoUDP, sent.Con.Proto)
	assert.Equal(t, uint16(39999), sent.Con.LocalPort)
}

func TestECHOFirstProbeViaRelay(t *testing.T) {
	f := newFixtureWith(t,
		config.STUNConfig{Enabled: true, RelaySourcePort: 39999},
		config.TURNConfig{})
	account, _, _ := f.seedPlayer(t, "Frodo", clientTCP, protocol.Descriptor{})

	require.NoError(t, f.handler.HandlePacket(context.Background(), echoProbe(mustStr(account.ID)), clientUDP))

	sent := f.submit.Last(t)
	assert.Equal(t, protocol.ProtoRemoteUDP, sent.Con.Proto)
	assert.Equal(t, uint16(39999), sent.Con.LocalPort)
	assert.Equal(t, clientUDP.PeerIP, sent.Con.PeerIP)
}

func TestECHOSecondProbeMarksStrict(t *testing.T) {
	f := newFixture(t)
	account, _, s := f.seedPlayer(t, "Frodo", clientTCP, clientUDP)
	require.NoError(t, f.mem.Store().Sessions.SetNatType(context.Background(), s.ID, model.NatOpen))

	require.NoError(t, f.handler.HandlePacket(context.Background(), echoProbe(mustStr(account.ID)), clientUDP))

	assert.Equal(t, model.NatStrict, f.mem.Session(s.ID).NatType)
	sent := f.submit.Last(t)
	assert.Equal(t, clientUDP, sent.Con)
}

func TestECHOTracksChangedEndpoint(t *testing.T) {
	f := newFixture(t)
	account, _, s := f.seedPlayer(t, "Frodo", clientTCP, clientUDP)
	require.NoError(t, f.mem.Store().Sessions.SetNatType(context.Background(), s.ID, model.NatStrict))

	rewritten := protocol.NewDescriptor(protocol.ProtoUDP, protocol.ServiceTheater, 18885, clientUDP.PeerIP, 50123)
	require.NoError(t, f.handler.HandlePacket(context.Background(), echoProbe(mustStr(account.ID)), rewritten))

	assert.Equal(t, rewritten.String(), f.mem.Session(s.ID).TheaterUDPHandle)
	assert.Equal(t, "50123", f.submit.Last(t).Packet.Data.Get("PORT"))
}

func TestECHOHostProbeSoftensStrict(t *testing.T) {
	f := newFixture(t)
	account, persona, s := f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)
	require.NoError(t, f.mem.Store().Sessions.SetNatType(context.Background(), s.ID, model.NatStrict))
	f.mem.AddGame(model.Game{
		LobbyID: 1, Name: "Aragorn", PersonaID: persona.ID,
		Port: 11900, InternalPort: 11900, JoinMode: "O",
	})

	probe := theaterResponse(protocol.CategoryECHO,
		"TID", "1", "UID", mustStr(account.ID), "TYPE", "1",
		"UGID", "NOGUID", "SECRET", "NOSECRET")
	require.NoError(t, f.handler.HandlePacket(context.Background(), probe, hostUDP))

	assert.Equal(t, model.NatModerate, f.mem.Session(s.ID).NatType)
	assert.Equal(t, hostUDP, f.submit.Last(t).Con)
}

func TestECHOHostProbePortMismatchStaysStrict(t *testing.T) {
	f := newFixture(t)
	account, persona, s := f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)
	require.NoError(t, f.mem.Store().Sessions.SetNatType(context.Background(), s.ID, model.NatStrict))
	f.mem.AddGame(model.Game{
		LobbyID: 1, Name: "Aragorn", PersonaID: persona.ID,
		Port: 11900, InternalPort: 6000, JoinMode: "O",
	})

	probe := theaterResponse(protocol.CategoryECHO,
		"TID", "1", "UID", mustStr(account.ID), "TYPE", "1",
		"UGID", "NOGUID", "SECRET", "NOSECRET")
	require.NoError(t, f.handler.HandlePacket(context.Background(), probe, hostUDP))

	assert.Equal(t, model.NatStrict, f.mem.Session(s.ID).NatType)
}

func TestECHORejectsTCP(t *testing.T) {
	f := newFixture(t)
	err := f.handler.HandlePacket(context.Background(), echoProbe("1"), clientTCP)
	assert.Error(t, err)
	assert.Empty(t, f.submit.Sent())
}

func TestECHOUnknownUser(t *testing.T) {
	f := newFixture(t)
	err := f.handler.HandlePacket(context.Background(), echoProbe("42"), clientUDP)
	assert.Error(t, err)
	assert.Empty(t, f.submit.Sent())
}
