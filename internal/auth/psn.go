package auth

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// PSN login tickets are a TLV blob: an 8 or 10 byte header followed by
// sections, each section a list of typed data entries. The online name
// sits in the body section at a fixed entry index.

// PSN section types.
const (
	psnSectionBody   byte = 0x00
	psnSectionFooter byte = 0x02
)

// PSN data entry types.
const (
	psnDataNoData      byte = 0x00
	psnDataUnknown     byte = 0x01
	psnDataConsoleID   byte = 0x02
	psnDataString      byte = 0x04
	psnDataTimestampMS byte = 0x07
	psnDataString2     byte = 0x08
)

var errTicketMalformed = errors.New("malformed psn ticket")

// PSNTicketData is one typed entry inside a ticket section.
type PSNTicketData struct {
	Type    byte
	Payload []byte
}

// PSNTicketSection groups the entries of one TLV section.
type PSNTicketSection struct {
	Type    byte
	Entries []PSNTicketData
}

// PSNTicket is a parsed console login ticket.
type PSNTicket struct {
	VersionMajor byte
	VersionMinor byte
	Sections     []PSNTicketSection
}

// ParsePSNTicketHex decodes the hex form the client sends. The leading
// "$" marker is stripped first.
func ParsePSNTicketHex(ticket string) (*PSNTicket, error) {
	ticket = strings.TrimPrefix(ticket, "$")
	raw, err := hex.DecodeString(ticket)
	if err != nil {
		return nil, fmt.Errorf("decoding psn ticket hex: %w", err)
	}
	return ParsePSNTicket(raw)
}

// ParsePSNTicket parses a raw ticket blob.
func ParsePSNTicket(data []byte) (*PSNTicket, error) {
	if len(data) < 8 {
		return nil, errTicketMalformed
	}
	// Bytes 2..6 are reserved and must be zero.
	if !bytes.Equal(data[2:7], make([]byte, 5)) {
		return nil, errTicketMalformed
	}
	if data[0]&0x0f != 0x01 {
		return nil, fmt.Errorf("%w: bad major version marker", errTicketMalformed)
	}
	if data[1]&0xf0 != 0x00 {
		return nil, fmt.Errorf("%w: bad minor version marker", errTicketMalformed)
	}

	t := &PSNTicket{
		VersionMajor: data[0] >> 4,
		VersionMinor: data[1] & 0x0f,
	}

	headerSize := 8
	if data[7] == 0 {
		if len(data) < 10 {
			return nil, errTicketMalformed
		}
		headerSize = 10
	}

	offset := headerSize
	for offset < len(data) {
		section, size, err := parsePSNSection(data[offset:])
		if err != nil {
			return nil, err
		}
		t.Sections = append(t.Sections, section)
		offset += size
	}
	return t, nil
}

func parsePSNSection(data []byte) (PSNTicketSection, int, error) {
	if len(data) < 8 {
		return PSNTicketSection{}, 0, errTicketMalformed
	}
	if data[0] != 0x30 || data[2] != 0x00 {
		return PSNTicketSection{}, 0, errTicketMalformed
	}

	sectionType := data[1]
	length := int(data[3])
	headerSize := 4
	if length == 0 {
		if len(data) < 6 {
			return PSNTicketSection{}, 0, errTicketMalformed
		}
		length = int(binary.BigEndian.Uint16(data[4:6]))
		headerSize = 6
	}
	end := headerSize + length
	if end > len(data) {
		return PSNTicketSection{}, 0, errTicketMalformed
	}

	section := PSNTicketSection{Type: sectionType}
	offset := headerSize
	for offset < end {
		entry, size, err := parsePSNData(data[offset:])
		if err != nil {
			return PSNTicketSection{}, 0, err
		}
		section.Entries = append(section.Entries, entry)
		offset += size
	}
	return section, end, nil
}

func parsePSNData(data []byte) (PSNTicketData, int, error) {
	if len(data) < 4 {
		return PSNTicketData{}, 0, errTicketMalformed
	}
	if data[0] != 0x00 || data[2] != 0x00 {
		return PSNTicketData{}, 0, errTicketMalformed
	}

	dataType := data[1]
	switch dataType {
	case psnDataNoData, psnDataUnknown, psnDataConsoleID, psnDataString, psnDataTimestampMS, psnDataString2:
	default:
		return PSNTicketData{}, 0, fmt.Errorf("%w: unknown data type 0x%02x", errTicketMalformed, dataType)
	}

	length := int(data[3])
	headerSize := 4
	if length == 0 && dataType != psnDataNoData {
		if len(data) < 6 {
			return PSNTicketData{}, 0, errTicketMalformed
		}
		length = int(binary.BigEndian.Uint16(data[4:6]))
		headerSize = 6
	}
	if headerSize+length > len(data) {
		return PSNTicketData{}, 0, errTicketMalformed
	}

	entry := PSNTicketData{
		Type:    dataType,
		Payload: data[headerSize : headerSize+length],
	}
	return entry, headerSize + length, nil
}

// OnlineName extracts the PSN online name from the ticket body.
func (t *PSNTicket) OnlineName() (string, error) {
	if len(t.Sections) == 0 {
		return "", errTicketMalformed
	}
	body := t.Sections[0]
	if len(body.Entries) < 6 {
		return "", errTicketMalformed
	}
	name := body.Entries[5].Payload
	return string(bytes.TrimRight(name, "\x00")), nil
}
