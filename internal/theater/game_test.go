package theater

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/protocol"
)

func cgamRequest(name string, pairs ...string) *protocol.Packet {
	base := []string{
		"LID", "-1", "RESERVE-HOST", "1", "NAME", name, "PORT", "11900",
		"HTTYPE", "A", "TYPE", "G", "QLEN", "0", "DISABLE-AUTO-DEQUEUE", "0",
		"HXFR", "0", "INT-PORT", "11900", "INT-IP", "192.168.1.53",
		"MAX-PLAYERS", "16", "B-maxObservers", "0", "B-numObservers", "0",
		"UGID", "", "SECRET", "", "B-U-FriendsOnly", "0", "B-U-PlayMode", "0",
		"B-U-Ranked", "0", "B-U-Version", "245478296", "B-version", "",
		"JOIN", "O", "RT", "", "TID", "4",
	}
	return theaterRequest(protocol.CategoryCGAM, append(base, pairs...)...)
}

func TestCGAMCreatesGame(t *testing.T) {
	f := newFixture(t)
	_, persona, _ := f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)

	require.NoError(t, f.handler.HandlePacket(context.Background(), cgamRequest("Aragorn"), hostTCP))

	resp := f.submit.Last(t).Packet
	assert.Equal(t, protocol.CategoryCGAM, resp.Category)
	assert.Equal(t, uint32(3), resp.ID)
	assert.Equal(t, "4", resp.Data.Get("TID"))
	assert.Equal(t, "16", resp.Data.Get("MAX-PLAYERS"))
	assert.Equal(t, "NOENCYRPTIONKEY", resp.Data.Get("EKEY"))
	assert.Equal(t, "NOGUID", resp.Data.Get("UGID"))
	assert.Equal(t, "NOSECRET", resp.Data.Get("SECRET"))
	assert.Equal(t, "O", resp.Data.Get("JOIN"))
	assert.Equal(t, "O", resp.Data.Get("J"))
	assert.Equal(t, "1", resp.Data.Get("LID"))

	gameID := resp.Data.Get("GID")
	require.NotEmpty(t, gameID)
	game := f.mem.Game(mustID(t, gameID))
	require.NotNil(t, game)
	assert.Equal(t, persona.ID, game.PersonaID)
	assert.Equal(t, "Aragorn", game.Name)
	assert.Equal(t, int32(1), game.LobbyID, "requested lobby id is ignored")
	assert.Equal(t, int32(11900), game.Port)
	assert.Equal(t, "192.168.1.53", game.InternalIP)
	assert.True(t, game.ReserveHost)
	assert.Equal(t, "NOENCYRPTIONKEY", game.EncryptionKey)
	assert.Equal(t, "{}", game.OtherAsJSON)
}

func TestCGAMRejectsDuplicateName(t *testing.T) {
	f := newFixture(t)
	_, persona, _ := f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)
	f.mem.AddGame(model.Game{LobbyID: 1, Name: "Aragorn", PersonaID: persona.ID})

	err := f.handler.HandlePacket(context.Background(), cgamRequest("Aragorn"), hostTCP)
	assert.Error(t, err)
	assert.Equal(t, "104", f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestCGAMRejectsBadName(t *testing.T) {
	f := newFixture(t)
	f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)

	err := f.handler.HandlePacket(context.Background(), cgamRequest("x"), hostTCP)
	assert.Error(t, err)
	assert.Equal(t, "104", f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestCGAMRequiresSession(t *testing.T) {
	f := newFixture(t)

	err := f.handler.HandlePacket(context.Background(), cgamRequest("Aragorn"), hostTCP)
	assert.Error(t, err)
	assert.Equal(t, "104", f.submit.Last(t).Packet.Data.Get("errorCode"))
}

func TestCGAMSoftensStrictNat(t *testing.T) {
	f := newFixture(t)
	_, _, s := f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)
	require.NoError(t, f.mem.Store().Sessions.SetNatType(context.Background(), s.ID, model.NatStrict))

	// Advertised external and internal ports both match the probed one.
	require.NoError(t, f.handler.HandlePacket(context.Background(), cgamRequest("Aragorn"), hostTCP))

	assert.Equal(t, model.NatModerate, f.mem.Session(s.ID).NatType)
}

func TestUGAMUpdatesColumnsAndOverflow(t *testing.T) {
	f := newFixture(t)
	_, persona, _ := f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)
	game := f.mem.AddGame(model.Game{
		LobbyID: 1, Name: "Aragorn", PersonaID: persona.ID,
		JoinMode: "O", MaxPlayers: 16,
	})

	pkt := theaterResponse(protocol.CategoryUGAM,
		"LID", "1", "GID", mustStr(game.ID), "JOIN", "C",
		"MAX-PLAYERS", "32", "B-U-LevelName", "Minas Tirith",
		"B-U-Time", "3600", "TID", "8")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, hostTCP))

	updated := f.mem.Game(game.ID)
	assert.Equal(t, "C", updated.JoinMode)
	assert.Equal(t, int32(32), updated.MaxPlayers)
	assert.Equal(t, "Minas Tirith", updated.UserLevelName)
	assert.Equal(t, "3600", gjson.Get(updated.OtherAsJSON, "B-U-Time").String())

	resp := f.submit.Last(t).Packet
	assert.Equal(t, protocol.CategoryUGAM, resp.Category)
	assert.Equal(t, uint32(0), resp.ID)
	assert.Equal(t, []string{"TID"}, resp.Data.Keys())
}

func TestUBRAAcknowledges(t *testing.T) {
	f := newFixture(t)
	pkt := theaterRequest(protocol.CategoryUBRA, "LID", "1", "GID", "23", "START", "1", "TID", "8")

	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, hostTCP))

	resp := f.submit.Last(t).Packet
	assert.Equal(t, uint32(0), resp.ID)
	assert.Equal(t, "8", resp.Data.Get("TID"))
}

func TestRGAMRemovesGameAndMemberships(t *testing.T) {
	f := newFixture(t)
	_, persona, _ := f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)
	game := f.mem.AddGame(model.Game{LobbyID: 1, Name: "Aragorn", PersonaID: persona.ID})
	f.mem.AddParticipant(model.Participant{GameID: game.ID, PersonaID: persona.ID})

	pkt := theaterRequest(protocol.CategoryRGAM, "LID", "1", "GID", mustStr(game.ID), "TID", "8")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, hostTCP))

	assert.Nil(t, f.mem.Game(game.ID))
	assert.Nil(t, f.mem.Participant(game.ID, persona.ID))
	assert.Equal(t, "8", f.submit.Last(t).Packet.Data.Get("TID"))
}

func TestGLSTSendsSummaryAndGameData(t *testing.T) {
	f := newFixture(t)
	_, hostPersona, _ := f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)
	_, _, _ = f.seedPlayer(t, "Frodo", clientTCP, clientUDP)

	game := f.mem.AddGame(model.Game{
		LobbyID: 1, Name: "Aragorn", PersonaID: hostPersona.ID,
		Port: 11900, MaxPlayers: 16, JoinMode: "O", GameType: "G",
		UserLevelKey: "helmsdeep", UserRanked: true,
		ServerVersion: "245478296",
		OtherAsJSON:   `{"B-U-Time":"3600"}`,
	})
	f.mem.AddParticipant(model.Participant{
		GameID: game.ID, PersonaID: hostPersona.ID, QueuePos: model.QueuePosActive,
	})

	pkt := theaterRequest(protocol.CategoryGLST, "LID", "1", "TYPE", "G", "COUNT", "-1", "TID", "4")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, clientTCP))

	sent := f.submit.Sent()
	require.Len(t, sent, 2)

	summary := sent[0].Packet
	assert.Equal(t, protocol.CategoryGLST, summary.Category)
	assert.Equal(t, uint32(0), summary.ID)
	assert.Equal(t, "1", summary.Data.Get("NUM-GAMES"))
	assert.Equal(t, "1000", summary.Data.Get("LOBBY-MAX-GAMES"))

	gdat := sent[1].Packet
	assert.Equal(t, protocol.CategoryGDAT, gdat.Category)
	assert.Equal(t, mustStr(game.ID), gdat.Data.Get("GID"))
	assert.Equal(t, "Aragorn", gdat.Data.Get("HN"))
	assert.Equal(t, mustStr(hostPersona.ID), gdat.Data.Get("HU"))
	assert.Equal(t, clientTCP.PeerIP, gdat.Data.Get("I"))
	assert.Equal(t, "11900", gdat.Data.Get("P"))
	assert.Equal(t, "16", gdat.Data.Get("MP"))
	assert.Equal(t, "1", gdat.Data.Get("AP"))
	assert.Equal(t, "helmsdeep", gdat.Data.Get("B-U-LevelKey"))
	assert.Equal(t, "1", gdat.Data.Get("B-U-Ranked"))
	assert.False(t, gdat.Data.Has("B-U-LevelName"), "empty attributes stay out")
	assert.Equal(t, "3600", gdat.Data.Get("B-U-Time"))
}

func TestGLSTFlattensArrayShapedOverflow(t *testing.T) {
	f := newFixture(t)
	_, hostPersona, _ := f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)
	f.seedPlayer(t, "Frodo", clientTCP, clientUDP)
	f.mem.AddGame(model.Game{
		LobbyID: 1, Name: "Aragorn", PersonaID: hostPersona.ID,
		JoinMode: "O", OtherAsJSON: `[{"B-U-Elo":"1200"},{"B-U-Region":"eu"}]`,
	})

	pkt := theaterRequest(protocol.CategoryGLST, "LID", "1", "TID", "4")
	require.NoError(t, f.handler.HandlePacket(context.Background(), pkt, clientTCP))

	gdat := f.submit.Last(t).Packet
	assert.Equal(t, "1200", gdat.Data.Get("B-U-Elo"))
	assert.Equal(t, "eu", gdat.Data.Get("B-U-Region"))
}

func TestGLSTRequiresSessionForGameData(t *testing.T) {
	f := newFixture(t)
	_, hostPersona, _ := f.seedPlayer(t, "Aragorn", hostTCP, hostUDP)
	f.mem.AddGame(model.Game{LobbyID: 1, Name: "Aragorn", PersonaID: hostPersona.ID})

	pkt := theaterRequest(protocol.CategoryGLST, "LID", "1", "TID", "4")
	err := f.handler.HandlePacket(context.Background(), pkt, clientTCP)
	assert.Error(t, err)

	// The summary still went out.
	require.Len(t, f.submit.Sent(), 1)
	assert.Equal(t, protocol.CategoryGLST, f.submit.Last(t).Packet.Category)
}
