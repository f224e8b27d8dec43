package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorString(t *testing.T) {
	d := NewDescriptor(ProtoTCP, ServiceFesl, 18880, "192.0.2.10", 51000)
	assert.Equal(t, "tcp+fesl@18880://192.0.2.10:51000", d.String())
}

func TestDescriptorRoundTrip(t *testing.T) {
	protos := []Proto{ProtoTCP, ProtoUDP, ProtoRemoteUDP}
	services := []Service{ServiceFesl, ServiceTheater}

	for _, proto := range protos {
		for _, service := range services {
			d := NewDescriptor(proto, service, 18885, "10.0.0.2", 11900)
			parsed, err := ParseDescriptor(d.String())
			require.NoError(t, err, "descriptor %s", d)
			assert.Equal(t, d, parsed)
		}
	}
}

func TestParseDescriptorErrors(t *testing.T) {
	bad := []string{
		"",
		"tcp+fesl",
		"tcpfesl@18880://1.2.3.4:5",
		"quic+fesl@18880://1.2.3.4:5",
		"tcp+web@18880://1.2.3.4:5",
		"tcp+fesl@notaport://1.2.3.4:5",
		"tcp+fesl@18880://1.2.3.4",
		"tcp+fesl@18880://1.2.3.4:notaport",
		"tcp+fesl@99999://1.2.3.4:5",
	}
	for _, s := range bad {
		_, err := ParseDescriptor(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestDescriptorIsZero(t *testing.T) {
	assert.True(t, Descriptor{}.IsZero())
	assert.False(t, NewDescriptor(ProtoUDP, ServiceTheater, 18885, "1.2.3.4", 5).IsZero())
}
