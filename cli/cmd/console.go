package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"spriteconsole/cli/pkg/client"
	"spriteconsole/cli/pkg/terminal"
)

var consoleCmd = &cobra.Command{
	Use:   "console <sprite>",
	Short: "Open an interactive terminal in a sprite",
	Long: `Open an interactive terminal session in a sprite through the relay.

In token mode the stored API token is sent to the relay directly. In ticket
mode a short-lived ticket is minted from the console server before every
connection attempt. Dropped connections are retried every two seconds until
you quit with Ctrl+] then 'q'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		cfg := GetConfig()
		if !cfg.Authenticated() {
			return fmt.Errorf("not authenticated. Run 'sprite-cli auth login' first")
		}
		modeFlag, _ := cmd.Flags().GetString("mode")
		if modeFlag == "" {
			modeFlag = cfg.Relay.Mode
		}
		mode, err := terminal.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		sessionID, _ := cmd.Flags().GetString("session")
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("console requires an interactive terminal")
		}

		api := client.New(cfg)
		if _, err := api.GetSprite(cmd.Context(), name); err != nil {
			return err
		}

		var creds terminal.CredentialSource
		switch mode {
		case terminal.ModeTicket:
			creds = api.TicketCredentials(name, sessionID)
		default:
			creds = terminal.StaticToken(cfg.Auth.Token)
		}

		tty := terminal.NewTTY()
		session, err := terminal.NewClient(terminal.Options{
			URL:         cfg.Relay.URL,
			Sprite:      name,
			SessionID:   sessionID,
			Surface:     tty,
			Credentials: creds,
			Clipboard:   terminal.SystemClipboard(),
			Fallback:    tty.Fallback(),
			OnStatus:    tty.ShowStatus,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = tty.Attach(ctx, session)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, terminal.ErrAuthRequired):
			return fmt.Errorf("%w. Run 'sprite-cli auth login' again", err)
		default:
			return err
		}
	},
}

func init() {
	consoleCmd.Flags().String("mode", "", "relay authentication mode (token|ticket, default from config)")
	consoleCmd.Flags().String("session", "", "attach to an existing exec session")
	rootCmd.AddCommand(consoleCmd)
}
