package config

import (
	"fmt"
	"net/url"
	"time"

	"spriteconsole/core/config"
)

// Config contains all configuration for the console service
type Config struct {
	Log      config.LogConfig `yaml:"log"`
	Console  ConsoleConfig    `yaml:"console"`
	Sprites  SpritesConfig    `yaml:"sprites"`
	Session  SessionConfig    `yaml:"session"`
	Ticket   TicketConfig     `yaml:"ticket"`
	Relay    RelayConfig      `yaml:"relay"`
	Database DatabaseConfig   `yaml:"database"`
}

// ConsoleConfig contains listener configuration
type ConsoleConfig struct {
	Host            string        `yaml:"host" env:"CONSOLE_HOST" default:"0.0.0.0"`
	Port            int           `yaml:"port" env:"CONSOLE_PORT" default:"3000"`
	Environment     string        `yaml:"environment" env:"CONSOLE_ENV" default:"development"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"CONSOLE_ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CONSOLE_SHUTDOWN_TIMEOUT" default:"10s"`
}

// SpritesConfig points at the Sprites REST API.
type SpritesConfig struct {
	APIBase string        `yaml:"api_base" env:"SPRITES_API_BASE" default:"https://api.sprites.dev/v1"`
	Org     string        `yaml:"org" env:"SPRITES_ORG"`
	Timeout time.Duration `yaml:"timeout" env:"SPRITES_API_TIMEOUT" default:"5m"`
}

// SessionConfig configures the identity cookie
type SessionConfig struct {
	Secret     string        `yaml:"-" env:"SESSION_SECRET"`
	CookieName string        `yaml:"cookie_name" default:"sprites_session"`
	TTL        time.Duration `yaml:"ttl" default:"720h"`
}

// TicketConfig holds the secret shared with the relay. An empty secret
// disables ticket minting.
type TicketConfig struct {
	Secret string        `yaml:"-" env:"WS_TICKET_SECRET"`
	TTL    time.Duration `yaml:"ttl" default:"5m"`
}

// RelayConfig tells terminal clients where to connect
type RelayConfig struct {
	PublicURL string `yaml:"public_url" env:"RELAY_PUBLIC_URL" default:"ws://localhost:3001/ws"`
}

// DatabaseConfig configures the projects store
type DatabaseConfig struct {
	DSN   string `yaml:"dsn" env:"DATABASE_URL" default:"file:./console.db?cache=shared"`
	Debug bool   `yaml:"debug" env:"DATABASE_DEBUG" default:"false"`
}

// Load loads the console configuration from multiple sources
func Load(configFile, envFile string) (*Config, error) {
	cfg := &Config{}

	loader := config.NewLoader(config.Sources{
		ConfigFile:  configFile,
		EnvFile:     envFile,
		ServiceName: "console",
	})
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load console configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("console configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Console.Port < 1 || c.Console.Port > 65535 {
		return fmt.Errorf("console port must be between 1 and 65535")
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("SESSION_SECRET environment variable is required")
	}
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters long")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}

	if u, err := url.Parse(c.Sprites.APIBase); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("sprites API base must be an http:// or https:// URL, got %q", c.Sprites.APIBase)
	}

	if c.Ticket.Secret != "" {
		if c.Ticket.TTL <= 0 {
			return fmt.Errorf("ticket TTL must be positive")
		}
		u, err := url.Parse(c.Relay.PublicURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("relay public URL must be a ws:// or wss:// URL, got %q", c.Relay.PublicURL)
		}
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	return nil
}

// IsProduction reports whether cookies must be marked Secure unconditionally.
func (c *Config) IsProduction() bool {
	return c.Console.Environment == "production"
}

// TicketsEnabled reports whether the console can mint relay tickets.
func (c *Config) TicketsEnabled() bool {
	return c.Ticket.Secret != ""
}

// GetListenAddress returns the address the console should listen on
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Console.Host, c.Console.Port)
}
