package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all client configuration.
type Config struct {
	// ServerURL is the base URL of the chat REST API.
	ServerURL string `env:"WAVECHAT_SERVER_URL" env-default:"https://api.wavechat.app"`
	// BrokerURL is the websocket URL of the message broker endpoint.
	// Derived from ServerURL when empty.
	BrokerURL string `env:"WAVECHAT_BROKER_URL"`
	// Home is the directory where the client stores local state.
	Home string `env:"WAVECHAT_HOME"`
	// Debug enables verbose logging.
	Debug bool `env:"WAVECHAT_DEBUG"`
}

// CredentialsPath is the file holding the persisted session credentials.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.Home, "credentials.json")
}

// Load reads configuration from an optional .env file and the environment,
// and makes sure the home directory exists.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	if cfg.Home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.Home = filepath.Join(homeDir, ".wavechat")
	}
	if err := os.MkdirAll(cfg.Home, 0700); err != nil {
		return nil, fmt.Errorf("create home directory: %w", err)
	}

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = deriveBrokerURL(cfg.ServerURL)
	}
	return &cfg, nil
}

// deriveBrokerURL maps an http(s) API base to the ws(s) broker endpoint.
func deriveBrokerURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws"
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws"
	default:
		return serverURL + "/ws"
	}
}
