// Package crypto builds the TLS profile the 2009-era game client can
// complete a handshake with.
package crypto

import (
	"crypto/tls"
	"fmt"
)

// LegacyServerConfig loads the key pair and returns a server TLS config
// dialed down for the original client: oldest protocol version the
// runtime still ships, RC4-family ciphers preferred, no tickets, no
// client verification. The client predates SNI and modern extensions.
func LegacyServerConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading tls key pair: %w", err)
	}
	return legacyConfig(cert), nil
}

// LegacyServerConfigFromPEM is LegacyServerConfig for in-memory PEM
// blocks, used by tests.
func LegacyServerConfigFromPEM(certPEM, keyPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing tls key pair: %w", err)
	}
	return legacyConfig(cert), nil
}

func legacyConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS10,
		MaxVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_RSA_WITH_RC4_128_SHA,
			tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA,
			tls.TLS_RSA_WITH_AES_128_CBC_SHA,
		},
		SessionTicketsDisabled: true,
		ClientAuth:             tls.NoClientCert,
		// The handshake order is fixed by the client, let it pick.
		PreferServerCipherSuites: false,
	}
}
