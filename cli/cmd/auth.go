package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"spriteconsole/cli/pkg/client"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a Sprites API token",
	Long: `Sign in to the console server with a Sprites API token.
The token is checked by the console and stored in the CLI config file,
readable only by you.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		// --token is the persistent root flag.
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			fmt.Fprint(cmd.OutOrStdout(), "API token: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("failed to read token: %w", err)
			}
			token = string(raw)
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return fmt.Errorf("token is required")
		}

		org, err := client.New(cfg).SignIn(cmd.Context(), token)
		if err != nil {
			return err
		}

		cfg.Auth.Token = token
		cfg.Auth.Org = org
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if org != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in to org %s. Token saved to config.\n", org)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Signed in. Token saved to config.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored API token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if !cfg.Authenticated() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
			return nil
		}
		if err := cfg.ClearAuth(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		out := cmd.OutOrStdout()

		if !cfg.Authenticated() {
			fmt.Fprintln(out, "Not authenticated. Run 'sprite-cli auth login' to authenticate.")
			return nil
		}

		id, err := client.New(cfg).CurrentUser(cmd.Context())
		if err != nil {
			if client.IsUnauthorized(err) {
				fmt.Fprintln(out, "Status: stored token was rejected. Run 'sprite-cli auth login' again.")
				return nil
			}
			return err
		}

		fmt.Fprintf(out, "Console: %s\n", cfg.Console.URL)
		fmt.Fprintf(out, "User:    %s\n", id.UserID)
		if id.Org != "" {
			fmt.Fprintf(out, "Org:     %s\n", id.Org)
		}
		fmt.Fprintln(out, "Status:  token valid")
		return nil
	},
}

func init() {
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(authCmd)
}
