package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mordorwide/plasma/internal/config"
)

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func TestSTUNSend(t *testing.T) {
	var got stunSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(stunSendResponse{Success: true})
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := NewSTUNClient(config.STUNConfig{Enabled: true, Host: host, Port: port, RelaySourcePort: 39999})

	err := c.Send(context.Background(), "198.51.100.4", 11900, 39999, []byte{0x01, 0x02})
	require.NoError(t, err)

	assert.Equal(t, "198.51.100.4", got.ClientIP)
	assert.Equal(t, 11900, got.ClientPort)
	assert.Equal(t, 39999, got.SourcePort)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}), got.B64Payload)
}

func TestSTUNSendRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(stunSendResponse{Success: false})
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := NewSTUNClient(config.STUNConfig{Enabled: true, Host: host, Port: port})

	err := c.Send(context.Background(), "198.51.100.4", 11900, 39999, nil)
	assert.Error(t, err)
}

func TestTURNLaunch(t *testing.T) {
	var got turnLaunchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/launch", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		p0, p1 := 40100, 40101
		json.NewEncoder(w).Encode(turnLaunchResponse{Success: true, RelayPort0: &p0, RelayPort1: &p1})
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := NewTURNClient(config.TURNConfig{Enabled: true, ControlHost: host, ControlPort: port, ExternalIP: "203.0.113.7"})

	p0, p1, err := c.Launch(context.Background(), "198.51.100.4", 11900, "198.51.100.9", 11901)
	require.NoError(t, err)

	assert.Equal(t, 40100, p0)
	assert.Equal(t, 40101, p1)
	assert.Equal(t, "198.51.100.4", got.ClientIP0)
	assert.Equal(t, 11900, got.ClientPort0)
	assert.Equal(t, "198.51.100.9", got.ClientIP1)
	assert.Equal(t, 11901, got.ClientPort1)
}

func TestTURNLaunchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(turnLaunchResponse{Success: false})
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := NewTURNClient(config.TURNConfig{Enabled: true, ControlHost: host, ControlPort: port})

	_, _, err := c.Launch(context.Background(), "a", 1, "b", 2)
	assert.Error(t, err)
}
