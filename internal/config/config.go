// Package config loads the server configuration from YAML with
// environment variable overrides for container deployments.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the backend process.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`

	// Account service listeners. PC and PS3 speak legacy TLS, the
	// Xbox 360 endpoint is plain.
	FeslPCPort   int `yaml:"fesl_pc_port"`
	FeslPS3Port  int `yaml:"fesl_ps3_port"`
	FeslXboxPort int `yaml:"fesl_xbox_port"`

	// Matchmaking listener, same port for TCP and UDP.
	TheaterPort int `yaml:"theater_port"`

	// Hostnames advertised to clients.
	MessengerHost string `yaml:"messenger_host"`
	TheaterHost   string `yaml:"theater_host"`

	// TLS key pair for the account service.
	PrivateKeyPath string `yaml:"private_key_path"`
	CertificatePath string `yaml:"certificate_path"`

	// Secret for signing relogin tokens.
	SecretKey string `yaml:"secret_key"`

	// Apply embedded migrations on startup.
	InitSchemas bool `yaml:"init_schemas"`

	Database DatabaseConfig `yaml:"database"`
	STUN     STUNConfig     `yaml:"stun"`
	TURN     TURNConfig     `yaml:"turn"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// STUNConfig points at the external echo relay used to probe whether a
// client can receive UDP from a foreign address.
type STUNConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// Source port the relay sends from. Without a relay, probes go
	// out of a fresh local socket bound to InternalSourcePort.
	RelaySourcePort    int `yaml:"relay_source_port"`
	InternalSourcePort int `yaml:"internal_source_port"`
}

// TURNConfig points at the relay spun up for peers whose NAT blocks a
// direct connection.
type TURNConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ControlHost string `yaml:"control_host"`
	ControlPort int    `yaml:"control_port"`
	// Address clients are told to dial, routed to the relay.
	ExternalIP string `yaml:"external_ip"`
}

// Default returns the configuration with sensible defaults.
func Default() Server {
	return Server{
		BindAddress:     "0.0.0.0",
		FeslPCPort:      18880,
		FeslPS3Port:     18870,
		FeslXboxPort:    18860,
		TheaterPort:     18885,
		MessengerHost:   "messenger.mordorwi.de",
		TheaterHost:     "theater.mordorwi.de",
		PrivateKeyPath:  "data/priv.pem",
		CertificatePath: "data/pub.pem",
		SecretKey:       "UNSAFE_SERVER_SECRET_123456789",
		InitSchemas:     true,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "plasma",
			Password: "plasma",
			DBName:   "plasma",
			SSLMode:  "disable",
		},
		STUN: STUNConfig{
			Enabled:            false,
			Port:               8001,
			RelaySourcePort:    39999,
			InternalSourcePort: 39999,
		},
		TURN: TURNConfig{
			Enabled:     false,
			ControlPort: 8002,
		},
	}
}

// Load loads the configuration from a YAML file and then applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Server) applyEnv() {
	envString(&c.Database.Host, "DB_HOST")
	envInt(&c.Database.Port, "DB_PORT")
	envString(&c.Database.DBName, "DB_NAME")
	envString(&c.Database.User, "DB_USERNAME")
	envString(&c.Database.Password, "DB_PASSWORD")

	envString(&c.SecretKey, "SECRET_KEY")
	envBool(&c.InitSchemas, "INIT_SCHEMAS")
	envString(&c.PrivateKeyPath, "PATH_PRIVATE_KEY")
	envString(&c.CertificatePath, "PATH_PUBLIC_KEY")

	envBool(&c.STUN.Enabled, "STUN_ENABLED")
	envString(&c.STUN.Host, "STUN_RELAY_HOST")
	envInt(&c.STUN.Port, "STUN_RELAY_PORT")
	envInt(&c.STUN.RelaySourcePort, "STUN_RELAY_SOURCE_PORT")
	envInt(&c.STUN.InternalSourcePort, "STUN_INTERNAL_SOURCE_PORT")

	envBool(&c.TURN.Enabled, "TURN_ENABLED")
	envString(&c.TURN.ControlHost, "TURN_RELAY_INTERNAL_HOST")
	envInt(&c.TURN.ControlPort, "TURN_RELAY_PORT")
	envString(&c.TURN.ExternalIP, "TURN_RELAY_EXTERNAL_IP")
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v == "1"
	}
}
