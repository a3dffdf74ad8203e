// Package config provides configuration management for the Quire Teams
// bot.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quire-api/microsoft-teams/pkg/duration"
)

// Duration is an alias for the shared duration.Duration type.
type Duration = duration.Duration

// Config represents the complete bot configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bot     BotConfig     `yaml:"bot"`
	Quire   QuireConfig   `yaml:"quire"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address      string          `yaml:"address"`
	ReadTimeout  Duration        `yaml:"read_timeout"`
	WriteTimeout Duration        `yaml:"write_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles the public webhook and sign-in endpoints.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// BotConfig contains Bot Framework application credentials.
type BotConfig struct {
	AppID       string `yaml:"app_id"`
	AppPassword string `yaml:"app_password"`
	// TokenURL is the Bot Framework token endpoint.
	TokenURL string `yaml:"token_url"`
}

// QuireConfig contains the Quire application registration and API
// endpoints.
type QuireConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// WebURL is the Quire site root; OAuth endpoints live under it.
	WebURL string `yaml:"web_url"`
	// APIURL overrides the API base; empty derives <web_url>/api.
	APIURL      string   `yaml:"api_url"`
	Timeout     Duration `yaml:"timeout"`
	ListTimeout Duration `yaml:"list_timeout"`
}

// AuthConfig contains sign-in flow settings.
type AuthConfig struct {
	// Domain is the public https origin of this service, used to build
	// the sign-in redirect pages.
	Domain  string   `yaml:"domain"`
	CodeTTL Duration `yaml:"code_ttl"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	DataDir        string   `yaml:"data_dir"`
	TokenRetention Duration `yaml:"token_retention"`
	SweepInterval  Duration `yaml:"sweep_interval"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "0.0.0.0:3978",
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 20,
				BurstSize:         40,
			},
		},
		Bot: BotConfig{
			TokenURL: "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token",
		},
		Quire: QuireConfig{
			WebURL:      "https://quire.io",
			Timeout:     Duration(30 * time.Second),
			ListTimeout: Duration(4500 * time.Millisecond),
		},
		Auth: AuthConfig{
			CodeTTL: Duration(60 * time.Second),
		},
		Storage: StorageConfig{
			DataDir:        "./data",
			TokenRetention: Duration(180 * 24 * time.Hour),
			SweepInterval:  Duration(24 * time.Hour),
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Secrets are
// typically injected this way rather than written into the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("QUIREBOT_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("QUIREBOT_APP_ID"); v != "" {
		c.Bot.AppID = v
	}
	if v := os.Getenv("QUIREBOT_APP_PASSWORD"); v != "" {
		c.Bot.AppPassword = v
	}
	if v := os.Getenv("QUIREBOT_CLIENT_ID"); v != "" {
		c.Quire.ClientID = v
	}
	if v := os.Getenv("QUIREBOT_CLIENT_SECRET"); v != "" {
		c.Quire.ClientSecret = v
	}
	if v := os.Getenv("QUIREBOT_DOMAIN"); v != "" {
		c.Auth.Domain = v
	}
	if v := os.Getenv("QUIREBOT_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("QUIREBOT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// QuireAPIURL returns the effective Quire API base URL.
func (c *Config) QuireAPIURL() string {
	if c.Quire.APIURL != "" {
		return c.Quire.APIURL
	}
	return c.Quire.WebURL + "/api"
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Bot.AppID == "" {
		return fmt.Errorf("bot.app_id is required")
	}
	if c.Bot.AppPassword == "" {
		return fmt.Errorf("bot.app_password is required")
	}
	if c.Quire.ClientID == "" {
		return fmt.Errorf("quire.client_id is required")
	}
	if c.Quire.ClientSecret == "" {
		return fmt.Errorf("quire.client_secret is required")
	}
	if c.Auth.Domain == "" {
		return fmt.Errorf("auth.domain is required")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	return nil
}
