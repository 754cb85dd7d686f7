package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RELAY_MODE", "token")

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, ModeToken, cfg.Relay.Mode)
	assert.Equal(t, 3001, cfg.Relay.Port)
	assert.Equal(t, "0.0.0.0:3001", cfg.GetListenAddress())
	assert.Equal(t, "wss://api.sprites.dev/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, "/bin/bash", cfg.Upstream.Command)
	assert.Equal(t, 10*time.Second, cfg.Upstream.DialTimeout)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, int64(1<<20), cfg.WebSocket.MessageSizeLimit)
}

func TestLoad_TicketModeFromFiles(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
relay:
  host: 127.0.0.1
  mode: ticket
  allowed_origins: [https://console.example]
upstream:
  base_url: ws://localhost:9000/v1
websocket:
  ping_interval: 0s
`), 0o644))

	envFile := filepath.Join(dir, "relay.env")
	require.NoError(t, os.WriteFile(envFile, []byte(`
WS_RELAY_PORT=4001
WS_TICKET_SECRET=shh
SETUP_SPRITE_TOKEN=service-token
`), 0o644))

	cfg, err := Load(configFile, envFile)
	require.NoError(t, err)

	assert.Equal(t, ModeTicket, cfg.Relay.Mode)
	assert.Equal(t, "127.0.0.1:4001", cfg.GetListenAddress())
	assert.Equal(t, []string{"https://console.example"}, cfg.Relay.AllowedOrigins)
	assert.Equal(t, "ws://localhost:9000/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, "service-token", cfg.Upstream.Token)
	assert.Equal(t, "shh", cfg.Ticket.Secret)
	assert.Zero(t, cfg.WebSocket.PingInterval)
}

func TestLoad_ServicePrefixOverride(t *testing.T) {
	t.Setenv("RELAY_MODE", "token")
	t.Setenv("WS_RELAY_PORT", "5000")
	t.Setenv("RELAY_WS_RELAY_PORT", "5001")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, 5001, cfg.Relay.Port)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Relay:     RelayConfig{Port: 3001, Mode: ModeTicket},
			Upstream:  UpstreamConfig{BaseURL: "wss://api.sprites.dev/v1", Token: "svc", DialTimeout: time.Second},
			Ticket:    TicketConfig{Secret: "shh"},
			WebSocket: WebSocketConfig{ReadBufferSize: 1, WriteBufferSize: 1},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Relay.Port = 70000 }},
		{"unknown mode", func(c *Config) { c.Relay.Mode = "open" }},
		{"ticket without secret", func(c *Config) { c.Ticket.Secret = "" }},
		{"ticket without service token", func(c *Config) { c.Upstream.Token = "" }},
		{"http upstream", func(c *Config) { c.Upstream.BaseURL = "https://api.sprites.dev/v1" }},
		{"zero dial timeout", func(c *Config) { c.Upstream.DialTimeout = 0 }},
		{"zero buffers", func(c *Config) { c.WebSocket.ReadBufferSize = 0 }},
		{"negative ping", func(c *Config) { c.WebSocket.PingInterval = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	tokenMode := valid()
	tokenMode.Relay.Mode = ModeToken
	tokenMode.Ticket.Secret = ""
	tokenMode.Upstream.Token = ""
	assert.NoError(t, tokenMode.Validate(), "token mode needs no secrets")
}
