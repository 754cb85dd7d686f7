package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DirName is the per-user config directory under $HOME.
	DirName = ".sprite-cli"

	DefaultConsoleURL = "http://localhost:3000"
	DefaultRelayURL   = "ws://localhost:3001/ws"
	DefaultRelayMode  = "ticket"
)

type Config struct {
	Console ConsoleConfig `mapstructure:"console"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

type ConsoleConfig struct {
	URL string `mapstructure:"url"`
}

type RelayConfig struct {
	URL string `mapstructure:"url"`
	// Mode is "token" (send the API token to the relay) or "ticket" (mint a
	// short-lived ticket from the console server first).
	Mode string `mapstructure:"mode"`
}

// AuthConfig is the locally stored credential. It is written by
// `auth login`, cleared by `auth logout` and only read during a session.
type AuthConfig struct {
	Token string `mapstructure:"token"`
	Org   string `mapstructure:"org"`
}

// Load reads configFile, or config.yaml from the current directory or
// $HOME/.sprite-cli when configFile is empty. SPRITE_-prefixed environment
// variables override the file.
func Load(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/" + DirName)
	}

	// With SetEnvPrefix("SPRITE") these become SPRITE_CONSOLE_URL,
	// SPRITE_AUTH_TOKEN and so on.
	viper.SetEnvPrefix("SPRITE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.BindEnv("console.url")
	viper.BindEnv("relay.url")
	viper.BindEnv("relay.mode")
	viper.BindEnv("auth.token")
	viper.BindEnv("auth.org")

	viper.SetDefault("console.url", DefaultConsoleURL)
	viper.SetDefault("relay.url", DefaultRelayURL)
	viper.SetDefault("relay.mode", DefaultRelayMode)

	if err := viper.ReadInConfig(); err != nil {
		// An explicit --config path that does not exist yet is fine; login
		// creates it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks URLs and the relay mode.
func (c *Config) Validate() error {
	if err := checkURL("console.url", c.Console.URL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("relay.url", c.Relay.URL, "ws", "wss"); err != nil {
		return err
	}
	switch c.Relay.Mode {
	case "token", "ticket":
	default:
		return fmt.Errorf("relay.mode must be token or ticket, got %q", c.Relay.Mode)
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s is not a valid URL: %q", key, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use %s, got %q", key, strings.Join(schemes, " or "), u.Scheme)
}

// Authenticated reports whether an API token is stored.
func (c *Config) Authenticated() bool {
	return c.Auth.Token != ""
}

// Path returns the file Save writes to.
func Path() (string, error) {
	if used := viper.ConfigFileUsed(); used != "" {
		return used, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName, "config.yaml"), nil
}

// Save writes the config. The file holds the API token, so it is created
// readable by the owner only.
func (c *Config) Save() error {
	configFile, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set("console.url", c.Console.URL)
	viper.Set("relay.url", c.Relay.URL)
	viper.Set("relay.mode", c.Relay.Mode)
	viper.Set("auth.token", c.Auth.Token)
	viper.Set("auth.org", c.Auth.Org)

	viper.SetConfigPermissions(0o600)
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ClearAuth forgets the stored credential and saves.
func (c *Config) ClearAuth() error {
	c.Auth = AuthConfig{}
	return c.Save()
}
