package config

import (
	"fmt"
	"net/url"
	"time"

	"spriteconsole/core/config"
)

// Mode selects how the relay authorizes connections.
type Mode string

const (
	// ModeToken accepts the caller's API token as the `token` query
	// parameter and uses it for the upstream dial.
	ModeToken Mode = "token"
	// ModeTicket accepts a signed `ticket` and dials upstream with the
	// relay's own service token.
	ModeTicket Mode = "ticket"
)

// Config contains all configuration for the relay service
type Config struct {
	Log       config.LogConfig `yaml:"log"`
	Relay     RelayConfig      `yaml:"relay"`
	Upstream  UpstreamConfig   `yaml:"upstream"`
	Ticket    TicketConfig     `yaml:"ticket"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// RelayConfig contains listener configuration
type RelayConfig struct {
	Host            string        `yaml:"host" env:"RELAY_HOST" default:"0.0.0.0"`
	Port            int           `yaml:"port" env:"WS_RELAY_PORT" default:"3001"`
	Mode            Mode          `yaml:"mode" env:"RELAY_MODE" default:"ticket"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"RELAY_ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"RELAY_SHUTDOWN_TIMEOUT" default:"10s"`
}

// UpstreamConfig describes the remote exec endpoint
type UpstreamConfig struct {
	BaseURL     string        `yaml:"base_url" env:"SPRITES_WS_BASE" default:"wss://api.sprites.dev/v1"`
	Token       string        `yaml:"-" env:"SETUP_SPRITE_TOKEN"`
	Command     string        `yaml:"command" env:"SPRITES_EXEC_COMMAND" default:"/bin/bash"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"SPRITES_DIAL_TIMEOUT" default:"10s"`
}

// TicketConfig holds the secret shared with the control plane
type TicketConfig struct {
	Secret string `yaml:"-" env:"WS_TICKET_SECRET"`
}

// WebSocketConfig configures both legs of every session
type WebSocketConfig struct {
	ReadBufferSize   int           `yaml:"read_buffer_size" default:"4096"`
	WriteBufferSize  int           `yaml:"write_buffer_size" default:"4096"`
	PingInterval     time.Duration `yaml:"ping_interval" default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MessageSizeLimit int64         `yaml:"message_size_limit" default:"1048576"`
}

// Load loads the relay configuration from multiple sources
func Load(configFile, envFile string) (*Config, error) {
	cfg := &Config{}

	loader := config.NewLoader(config.Sources{
		ConfigFile:  configFile,
		EnvFile:     envFile,
		ServiceName: "relay",
	})
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load relay configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("relay configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay port must be between 1 and 65535")
	}

	switch c.Relay.Mode {
	case ModeToken:
	case ModeTicket:
		if c.Ticket.Secret == "" {
			return fmt.Errorf("ticket mode requires WS_TICKET_SECRET")
		}
		if c.Upstream.Token == "" {
			return fmt.Errorf("ticket mode requires SETUP_SPRITE_TOKEN")
		}
	default:
		return fmt.Errorf("relay mode must be %q or %q, got %q", ModeToken, ModeTicket, c.Relay.Mode)
	}

	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("upstream base URL must be a ws:// or wss:// URL, got %q", c.Upstream.BaseURL)
	}

	if c.Upstream.DialTimeout <= 0 {
		return fmt.Errorf("upstream dial timeout must be positive")
	}
	if c.WebSocket.ReadBufferSize <= 0 || c.WebSocket.WriteBufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer sizes must be positive")
	}
	if c.WebSocket.PingInterval < 0 || c.WebSocket.WriteTimeout < 0 {
		return fmt.Errorf("WebSocket intervals must not be negative")
	}
	return nil
}

// GetListenAddress returns the address the relay should listen on
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Relay.Host, c.Relay.Port)
}
