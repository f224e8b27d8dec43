// Package relay talks to the external STUN echo relay and the TURN
// relay over their HTTP control endpoints.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mordorwide/plasma/internal/config"
)

// STUNClient asks the echo relay to send a UDP datagram to a client
// from a foreign source address.
type STUNClient struct {
	cfg    config.STUNConfig
	client *http.Client
}

// NewSTUNClient creates a client for the configured relay.
func NewSTUNClient(cfg config.STUNConfig) *STUNClient {
	return &STUNClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether a relay is configured.
func (c *STUNClient) Enabled() bool { return c.cfg.Enabled }

// RelaySourcePort is the port the relay sends from. Clients that
// receive from it despite never having dialed it are behind an open NAT.
func (c *STUNClient) RelaySourcePort() int { return c.cfg.RelaySourcePort }

// InternalSourcePort is the local fallback source port used when no
// remote relay is available.
func (c *STUNClient) InternalSourcePort() int { return c.cfg.InternalSourcePort }

type stunSendRequest struct {
	ClientIP   string `json:"client_ip"`
	ClientPort int    `json:"client_port"`
	SourcePort int    `json:"source_port"`
	B64Payload string `json:"b64_payload"`
}

type stunSendResponse struct {
	Success bool `json:"success"`
}

// Send delivers payload to the client endpoint via the remote relay.
func (c *STUNClient) Send(ctx context.Context, clientIP string, clientPort int, sourcePort int, payload []byte) error {
	body := stunSendRequest{
		ClientIP:   clientIP,
		ClientPort: clientPort,
		SourcePort: sourcePort,
		B64Payload: base64.StdEncoding.EncodeToString(payload),
	}
	var resp stunSendResponse
	url := fmt.Sprintf("http://%s:%d/send", c.cfg.Host, c.cfg.Port)
	if err := c.post(ctx, url, body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("stun relay refused to send to %s:%d", clientIP, clientPort)
	}
	return nil
}

func (c *STUNClient) post(ctx context.Context, url string, body, out any) error {
	return postJSON(ctx, c.client, url, body, out)
}

// TURNClient asks the relay to bridge two peers that cannot reach each
// other directly.
type TURNClient struct {
	cfg    config.TURNConfig
	client *http.Client
}

// NewTURNClient creates a client for the configured relay.
func NewTURNClient(cfg config.TURNConfig) *TURNClient {
	return &TURNClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether a relay is configured.
func (c *TURNClient) Enabled() bool { return c.cfg.Enabled }

// ExternalIP is the relay address advertised to both peers.
func (c *TURNClient) ExternalIP() string { return c.cfg.ExternalIP }

type turnLaunchRequest struct {
	ClientIP0   string `json:"client_ip_0"`
	ClientPort0 int    `json:"client_port_0"`
	ClientIP1   string `json:"client_ip_1"`
	ClientPort1 int    `json:"client_port_1"`
}

type turnLaunchResponse struct {
	Success    bool `json:"success"`
	RelayPort0 *int `json:"relay_port_0"`
	RelayPort1 *int `json:"relay_port_1"`
}

// Launch allocates a relayed bridge between the two endpoints. It
// returns the relay ports assigned to each side: port0 forwards to
// endpoint 0, port1 to endpoint 1.
func (c *TURNClient) Launch(ctx context.Context, ip0 string, port0 int, ip1 string, port1 int) (relayPort0, relayPort1 int, err error) {
	body := turnLaunchRequest{
		ClientIP0:   ip0,
		ClientPort0: port0,
		ClientIP1:   ip1,
		ClientPort1: port1,
	}
	var resp turnLaunchResponse
	url := fmt.Sprintf("http://%s:%d/launch", c.cfg.ControlHost, c.cfg.ControlPort)
	if err := postJSON(ctx, c.client, url, body, &resp); err != nil {
		return 0, 0, err
	}
	if !resp.Success || resp.RelayPort0 == nil || resp.RelayPort1 == nil {
		return 0, 0, fmt.Errorf("turn relay failed to allocate a bridge")
	}
	return *resp.RelayPort0, *resp.RelayPort1, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding relay request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("building relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling relay %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay %s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding relay response: %w", err)
	}
	return nil
}
