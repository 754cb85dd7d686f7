package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"spriteconsole/cli/pkg/config"
	coreconfig "spriteconsole/core/config"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sprite-cli",
	Short: "Sprite console CLI",
	Long: `A command-line interface for the sprite console. Manages sprites and
checkpoints through the console server and opens interactive terminal
sessions through the relay.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logs := coreconfig.LogConfig{Level: logLevel, Format: "console"}
		logs.ConfigureZerolog()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sprite-cli/config.yaml)")
	rootCmd.PersistentFlags().String("console-url", "", "console server URL")
	rootCmd.PersistentFlags().String("relay-url", "", "relay WebSocket URL")
	rootCmd.PersistentFlags().String("token", "", "API token for authentication")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug|info|warn|error)")
	bindFlags()
}

// bindFlags lets the persistent flags override config file and environment.
func bindFlags() {
	viper.BindPFlag("console.url", rootCmd.PersistentFlags().Lookup("console-url"))
	viper.BindPFlag("relay.url", rootCmd.PersistentFlags().Lookup("relay-url"))
	viper.BindPFlag("auth.token", rootCmd.PersistentFlags().Lookup("token"))
}

func GetConfig() *config.Config {
	return cfg
}
