package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Mode is the one-byte packet mode in the wire header.
type Mode byte

const (
	ModePingOrTheaterResponse Mode = 0x00
	ModeSinglePacketResponse  Mode = 0x80
	ModeMultiPacketResponse   Mode = 0xB0
	ModeSinglePacketRequest   Mode = 0xC0
	ModeMultiPacketRequest    Mode = 0xF0
	ModeTheaterRequest        Mode = 0x40
)

// HeaderSize is the fixed wire header length:
// category[4] + mode[1] + packet id[3] + total length[4].
const HeaderSize = 12

// ErrShortPacket signals that the buffer does not yet hold a complete
// packet and the caller should read more bytes.
var ErrShortPacket = errors.New("incomplete packet")

// FESL categories (lowercase).
const (
	CategoryFsys = "fsys"
	CategoryPnow = "pnow"
	CategoryAcct = "acct"
	CategoryRecp = "recp"
	CategoryAsso = "asso"
	CategoryPres = "pres"
	CategoryRank = "rank"
	CategoryXmsg = "xmsg"
	CategoryMtrx = "mtrx"
)

// Theater categories (uppercase).
const (
	CategoryCONN = "CONN"
	CategoryUSER = "USER"
	CategoryECNL = "ECNL"
	CategoryEGAM = "EGAM"
	CategoryGDAT = "GDAT"
	CategoryLLST = "LLST"
	CategoryLDAT = "LDAT"
	CategoryGLST = "GLST"
	CategoryCGAM = "CGAM"
	CategoryPENT = "PENT"
	CategoryEGRQ = "EGRQ"
	CategoryQENT = "QENT"
	CategoryEGRS = "EGRS"
	CategoryEGEG = "EGEG"
	CategoryUBRA = "UBRA"
	CategoryUGAM = "UGAM"
	CategoryRGAM = "RGAM"
	CategoryPLVT = "PLVT"
	CategoryUGDE = "UGDE"
	CategoryPING = "PING"
	CategoryECHO = "ECHO"
)

var feslCategories = map[string]bool{
	CategoryFsys: true, CategoryPnow: true, CategoryAcct: true,
	CategoryRecp: true, CategoryAsso: true, CategoryPres: true,
	CategoryRank: true, CategoryXmsg: true, CategoryMtrx: true,
}

var theaterCategories = map[string]bool{
	CategoryCONN: true, CategoryUSER: true, CategoryECNL: true,
	CategoryEGAM: true, CategoryGDAT: true, CategoryLLST: true,
	CategoryLDAT: true, CategoryGLST: true, CategoryCGAM: true,
	CategoryPENT: true, CategoryEGRQ: true, CategoryQENT: true,
	CategoryEGRS: true, CategoryEGEG: true, CategoryUBRA: true,
	CategoryUGAM: true, CategoryRGAM: true, CategoryPLVT: true,
	CategoryUGDE: true, CategoryPING: true, CategoryECHO: true,
}

// IsFeslCategory reports whether c is a known FESL category tag.
func IsFeslCategory(c string) bool { return feslCategories[c] }

// IsTheaterCategory reports whether c is a known Theater category tag.
func IsTheaterCategory(c string) bool { return theaterCategories[c] }

func validMode(m Mode) bool {
	switch m {
	case ModePingOrTheaterResponse, ModeSinglePacketResponse,
		ModeMultiPacketResponse, ModeSinglePacketRequest,
		ModeMultiPacketRequest, ModeTheaterRequest:
		return true
	}
	return false
}

// ResponseMode maps a request mode to the mode its response carries.
// Response modes map to themselves.
func ResponseMode(m Mode) Mode {
	switch m {
	case ModeSinglePacketRequest:
		return ModeSinglePacketResponse
	case ModeMultiPacketRequest:
		return ModeMultiPacketResponse
	case ModeTheaterRequest:
		return ModePingOrTheaterResponse
	default:
		return m
	}
}

// Packet is one framed Plasma/Theater message.
type Packet struct {
	Category string
	Mode     Mode
	ID       uint32
	Data     *Dict
}

// NewPacket builds a packet; a nil data dict is replaced by an empty one.
func NewPacket(category string, mode Mode, id uint32, data *Dict) *Packet {
	if data == nil {
		data = NewDict()
	}
	return &Packet{Category: category, Mode: mode, ID: id, Data: data}
}

// EscapeString applies the wire escaping: %, " and = are percent-escaped,
// and the result is quote-wrapped when it contains a space.
func EscapeString(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, `"`, "%22")
	s = strings.ReplaceAll(s, "=", "%3d")
	if strings.Contains(s, " ") {
		return `"` + s + `"`
	}
	return s
}

// UnescapeString reverses EscapeString.
func UnescapeString(s string) string {
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(s, "%22", `"`)
	s = strings.ReplaceAll(s, "%3d", "=")
	s = strings.ReplaceAll(s, "%25", "%")
	return s
}

// Encode serialises the packet into its wire form.
func (p *Packet) Encode() []byte {
	var payload []byte
	for _, k := range p.Data.Keys() {
		payload = append(payload, EscapeString(k)...)
		payload = append(payload, '=')
		payload = append(payload, EscapeString(p.Data.Get(k))...)
		payload = append(payload, '\n')
	}
	payload = append(payload, 0x00)

	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = append(buf, p.Category...)
	buf = append(buf, byte(p.Mode))
	buf = append(buf, byte(p.ID>>16), byte(p.ID>>8), byte(p.ID))
	buf = binary.BigEndian.AppendUint32(buf, uint32(HeaderSize+len(payload)))
	buf = append(buf, payload...)
	return buf
}

// Decode parses one packet from the front of buf. It returns the number
// of bytes consumed. ErrShortPacket means buf does not yet hold the whole
// frame; any other error means the stream is corrupt and the connection
// should be closed.
func Decode(buf []byte) (int, *Packet, error) {
	if len(buf) < HeaderSize {
		return 0, nil, ErrShortPacket
	}

	total := int(binary.BigEndian.Uint32(buf[8:12]))
	if total < HeaderSize {
		return 0, nil, fmt.Errorf("invalid packet length %d", total)
	}
	if total > len(buf) {
		return 0, nil, ErrShortPacket
	}

	category := string(buf[0:4])
	if !IsFeslCategory(category) && !IsTheaterCategory(category) {
		return 0, nil, fmt.Errorf("unknown packet category %q", category)
	}

	mode := Mode(buf[4])
	if !validMode(mode) {
		return 0, nil, fmt.Errorf("unknown packet mode 0x%02X", byte(mode))
	}

	id := uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7])

	data, err := parsePayload(buf[HeaderSize:total])
	if err != nil {
		return 0, nil, fmt.Errorf("parsing %s payload: %w", category, err)
	}

	return total, &Packet{Category: category, Mode: mode, ID: id, Data: data}, nil
}

func parsePayload(payload []byte) (*Dict, error) {
	data := NewDict()
	for _, entry := range strings.Split(string(payload), "\n") {
		if entry == "" || entry == "\x00" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q has no key/value separator", entry)
		}
		data.Set(UnescapeString(key), UnescapeString(value))
	}
	return data, nil
}

// LogValue renders the packet for structured logging with the password
// field masked.
func (p *Packet) LogValue() slog.Value {
	var sb strings.Builder
	for i, k := range p.Data.Keys() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		if k == "password" {
			sb.WriteString("***")
		} else {
			sb.WriteString(p.Data.Get(k))
		}
	}
	return slog.GroupValue(
		slog.String("category", p.Category),
		slog.String("mode", fmt.Sprintf("0x%02X", byte(p.Mode))),
		slog.Uint64("id", uint64(p.ID)),
		slog.String("data", sb.String()),
	)
}
