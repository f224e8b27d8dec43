package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHeader(t *testing.T) {
	pkt := NewPacket(CategoryAcct, ModeSinglePacketRequest, 0x010203, DictOf("TXN", "NuLogin"))
	raw := pkt.Encode()

	require.GreaterOrEqual(t, len(raw), HeaderSize)
	assert.Equal(t, "acct", string(raw[0:4]))
	assert.Equal(t, byte(0xC0), raw[4])
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, raw[5:8])
	assert.Equal(t, uint32(len(raw)), binary.BigEndian.Uint32(raw[8:12]))
	assert.Equal(t, "TXN=NuLogin\n\x00", string(raw[HeaderSize:]))
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  *Packet
	}{
		{
			name: "fesl request",
			pkt: NewPacket(CategoryAcct, ModeSinglePacketRequest, 7, DictOf(
				"TXN", "NuLogin",
				"nuid", "a@b.c",
				"password", "secret1",
			)),
		},
		{
			name: "theater request",
			pkt: NewPacket(CategoryCGAM, ModeTheaterRequest, 0, DictOf(
				"TID", "4",
				"NAME", "Shire",
				"MAX-PLAYERS", "4",
			)),
		},
		{
			name: "empty payload",
			pkt:  NewPacket(CategoryPING, ModeTheaterRequest, 0, nil),
		},
		{
			name: "escaped values",
			pkt: NewPacket(CategoryFsys, ModeSinglePacketResponse, 1, DictOf(
				"msg", `a=b "quoted" 100%`,
			)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.pkt.Encode()
			n, got, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, len(raw), n)
			assert.Equal(t, tt.pkt.Category, got.Category)
			assert.Equal(t, tt.pkt.Mode, got.Mode)
			assert.Equal(t, tt.pkt.ID, got.ID)
			assert.True(t, tt.pkt.Data.Equal(got.Data), "dict mismatch incl. order")
		})
	}
}

func TestDecodePreservesKeyOrder(t *testing.T) {
	pkt := NewPacket(CategoryRank, ModeSinglePacketResponse, 2, DictOf(
		"stats.0.name", "kills",
		"stats.1.name", "deaths",
		"stats.[]", "2",
		"TXN", "GetTopNAndMe",
	))
	_, got, err := Decode(pkt.Encode())
	require.NoError(t, err)
	assert.Equal(t, []string{"stats.0.name", "stats.1.name", "stats.[]", "TXN"}, got.Data.Keys())
}

func TestDecodeNeedsMoreBytes(t *testing.T) {
	raw := NewPacket(CategoryFsys, ModeSinglePacketRequest, 1, DictOf("TXN", "Hello")).Encode()

	for _, cut := range []int{0, 5, HeaderSize - 1, HeaderSize, len(raw) - 1} {
		_, _, err := Decode(raw[:cut])
		assert.ErrorIs(t, err, ErrShortPacket, "cut at %d", cut)
	}
}

func TestDecodeConsumesOneFrame(t *testing.T) {
	first := NewPacket(CategoryCONN, ModeTheaterRequest, 0, DictOf("TID", "1")).Encode()
	second := NewPacket(CategoryPING, ModeTheaterRequest, 0, nil).Encode()

	buf := append(append([]byte{}, first...), second...)
	n, pkt, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(first), n)
	assert.Equal(t, CategoryCONN, pkt.Category)

	n2, pkt2, err := Decode(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, len(second), n2)
	assert.Equal(t, CategoryPING, pkt2.Category)
}

func TestDecodeRejectsUnknownCategory(t *testing.T) {
	raw := NewPacket(CategoryFsys, ModeSinglePacketRequest, 1, nil).Encode()
	copy(raw[0:4], "zzzz")
	_, _, err := Decode(raw)
	assert.ErrorContains(t, err, "unknown packet category")
}

func TestDecodeRejectsUnknownMode(t *testing.T) {
	raw := NewPacket(CategoryFsys, ModeSinglePacketRequest, 1, nil).Encode()
	raw[4] = 0x13
	_, _, err := Decode(raw)
	assert.ErrorContains(t, err, "unknown packet mode")
}

func TestDecodeRejectsBadLength(t *testing.T) {
	raw := NewPacket(CategoryFsys, ModeSinglePacketRequest, 1, nil).Encode()
	binary.BigEndian.PutUint32(raw[8:12], 3)
	_, _, err := Decode(raw)
	assert.ErrorContains(t, err, "invalid packet length")
}

func TestDecodeRejectsEntryWithoutSeparator(t *testing.T) {
	payload := []byte("novalue\n\x00")
	raw := make([]byte, 0, HeaderSize+len(payload))
	raw = append(raw, "fsys"...)
	raw = append(raw, byte(ModeSinglePacketRequest), 0, 0, 1)
	raw = binary.BigEndian.AppendUint32(raw, uint32(HeaderSize+len(payload)))
	raw = append(raw, payload...)

	_, _, err := Decode(raw)
	assert.ErrorContains(t, err, "no key/value separator")
}

func TestEscapeStringRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"with space",
		"a=b",
		`say "hi"`,
		"100%",
		"%25 already escaped",
		`all=of "them" 50% done`,
	}
	for _, in := range inputs {
		assert.Equal(t, in, UnescapeString(EscapeString(in)), "input %q", in)
	}
}

func TestEscapeStringQuotesSpaces(t *testing.T) {
	assert.Equal(t, `"two words"`, EscapeString("two words"))
	assert.Equal(t, "plain", EscapeString("plain"))
	assert.Equal(t, "a%3db", EscapeString("a=b"))
}

func TestResponseMode(t *testing.T) {
	assert.Equal(t, ModeSinglePacketResponse, ResponseMode(ModeSinglePacketRequest))
	assert.Equal(t, ModeMultiPacketResponse, ResponseMode(ModeMultiPacketRequest))
	assert.Equal(t, ModePingOrTheaterResponse, ResponseMode(ModeTheaterRequest))
	assert.Equal(t, ModeSinglePacketResponse, ResponseMode(ModeSinglePacketResponse))
}

func TestErrorPacketForFeslRequest(t *testing.T) {
	req := NewPacket(CategoryAcct, ModeSinglePacketRequest, 42, DictOf(
		"TXN", "NuLogin",
		"nuid", "a@b.c",
	))

	errPkt := ErrorPacket(req, CodeAuthFail, "")
	assert.Equal(t, CategoryAcct, errPkt.Category)
	assert.Equal(t, ModeSinglePacketResponse, errPkt.Mode)
	assert.Equal(t, uint32(42), errPkt.ID)
	assert.Equal(t, "NuLogin", errPkt.Data.Get("TXN"))
	assert.Equal(t, "ErrorCode:100", errPkt.Data.Get("localizedMessage"))
	assert.Equal(t, "100", errPkt.Data.Get("errorCode"))
	assert.Equal(t, "0", errPkt.Data.Get("errorContainer.[]"))
}

func TestErrorPacketForTheaterRequest(t *testing.T) {
	req := NewPacket(CategoryEGAM, ModeTheaterRequest, 9, DictOf("TID", "3"))

	errPkt := ErrorPacket(req, CodeNoData, "no such game")
	assert.Equal(t, ModePingOrTheaterResponse, errPkt.Mode)
	assert.Equal(t, uint32(0), errPkt.ID)
	assert.False(t, errPkt.Data.Has("TXN"))
	assert.Equal(t, "no such game", errPkt.Data.Get("localizedMessage"))
	assert.Equal(t, "104", errPkt.Data.Get("errorCode"))
}
