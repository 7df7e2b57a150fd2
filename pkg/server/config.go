package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server   ServerSection   `toml:"server"`
	Auth     AuthSection     `toml:"auth"`
	Limits   LimitsSection   `toml:"limits"`
	Security SecuritySection `toml:"security"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	WSPort       int    `toml:"ws_port"`      // 0 = WebSocket transport disabled
	MetricsPort  int    `toml:"metrics_port"` // internal only, never expose publicly
	DatabasePath string `toml:"database_path"`
}

type AuthSection struct {
	MinUsernameLength int `toml:"min_username_length"`
	MaxAttempts       int `toml:"max_attempts"`
}

type LimitsSection struct {
	MaxMessageLength int `toml:"max_message_length"`
	HistoryReplay    int `toml:"history_replay"`
}

// SecuritySection selects the confidentiality mechanism. Mode "payload"
// encrypts every chat payload with the shared-key AEAD codec over plain TCP;
// mode "tls" wraps the listener in TLS and sends payloads through unchanged.
type SecuritySection struct {
	Mode       string `toml:"mode"` // "payload" or "tls"
	Passphrase string `toml:"passphrase"`
	TLSCert    string `toml:"tls_cert"`
	TLSKey     string `toml:"tls_key"`
}

// DefaultTOMLConfig returns the default configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:      5555,
			WSPort:       0,
			MetricsPort:  9090,
			DatabasePath: "data/chat_system.db",
		},
		Auth: AuthSection{
			MinUsernameLength: 3,
			MaxAttempts:       3,
		},
		Limits: LimitsSection{
			MaxMessageLength: 4096,
			HistoryReplay:    50,
		},
		Security: SecuritySection{
			Mode:       "payload",
			Passphrase: "change_this_key",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates a default file if
// none exists, and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Not fatal: run on defaults even if the file can't be written
			return applyEnvOverrides(config), nil
		}
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Variables follow the pattern RELAY_SECTION_KEY, e.g. RELAY_SERVER_TCP_PORT=6000.
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("RELAY_SERVER_TCP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.TCPPort = port
		}
	}
	if val := os.Getenv("RELAY_SERVER_WS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.WSPort = port
		}
	}
	if val := os.Getenv("RELAY_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("RELAY_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}

	if val := os.Getenv("RELAY_AUTH_MIN_USERNAME_LENGTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Auth.MinUsernameLength = n
		}
	}
	if val := os.Getenv("RELAY_AUTH_MAX_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Auth.MaxAttempts = n
		}
	}

	if val := os.Getenv("RELAY_LIMITS_MAX_MESSAGE_LENGTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxMessageLength = n
		}
	}
	if val := os.Getenv("RELAY_LIMITS_HISTORY_REPLAY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Limits.HistoryReplay = n
		}
	}

	if val := os.Getenv("RELAY_SECURITY_MODE"); val != "" {
		config.Security.Mode = val
	}
	if val := os.Getenv("RELAY_SECURITY_PASSPHRASE"); val != "" {
		config.Security.Passphrase = val
	}
	if val := os.Getenv("RELAY_SECURITY_TLS_CERT"); val != "" {
		config.Security.TLSCert = val
	}
	if val := os.Getenv("RELAY_SECURITY_TLS_KEY"); val != "" {
		config.Security.TLSKey = val
	}

	return config
}

// writeDefaultConfig writes the default config to a file with the options documented
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	content := fmt.Sprintf(`# Messaging relay configuration

[server]
tcp_port = %d
# WebSocket transport port (0 = disabled)
ws_port = %d
# Prometheus scrape endpoint - internal only, never expose publicly
metrics_port = %d
database_path = %q

[auth]
min_username_length = %d
# Failed credential attempts before the connection is closed
max_attempts = %d

[limits]
max_message_length = %d
# Persisted messages replayed to a client after login (0 = disabled)
history_replay = %d

[security]
# "payload": shared-key AEAD on every chat payload over plain TCP
# "tls": TLS listener, payloads pass through unchanged
mode = %q
passphrase = %q
# Required when mode = "tls"
tls_cert = %q
tls_key = %q
`,
		config.Server.TCPPort,
		config.Server.WSPort,
		config.Server.MetricsPort,
		config.Server.DatabasePath,
		config.Auth.MinUsernameLength,
		config.Auth.MaxAttempts,
		config.Limits.MaxMessageLength,
		config.Limits.HistoryReplay,
		config.Security.Mode,
		config.Security.Passphrase,
		config.Security.TLSCert,
		config.Security.TLSKey,
	)

	return os.WriteFile(path, []byte(content), 0644)
}
