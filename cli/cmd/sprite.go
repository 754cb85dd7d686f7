package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"spriteconsole/cli/pkg/client"
	"spriteconsole/cli/pkg/output"
	"spriteconsole/console/pkg/sprites"
)

var spriteCmd = &cobra.Command{
	Use:     "sprite",
	Aliases: []string{"sprites"},
	Short:   "Sprite management commands",
}

var spriteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sprites in your org",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := output.FromCmd(cmd)
		if err != nil {
			return err
		}

		list, err := client.New(GetConfig()).ListSprites(cmd.Context())
		if err != nil {
			return err
		}

		if formatter.IsText() && len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sprites found")
			return nil
		}
		return formatter.Render(list, func(w io.Writer) {
			fmt.Fprintln(w, "NAME\tSTATUS\tURL\tCREATED")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, output.Dash(s.Status), output.Dash(s.URL), output.Dash(s.CreatedAt))
			}
		})
	},
}

var spriteGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one sprite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := output.FromCmd(cmd)
		if err != nil {
			return err
		}

		sprite, err := client.New(GetConfig()).GetSprite(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return formatter.Render(sprite, func(w io.Writer) {
			fmt.Fprintf(w, "Name:\t%s\n", sprite.Name)
			fmt.Fprintf(w, "ID:\t%s\n", output.Dash(sprite.ID))
			fmt.Fprintf(w, "Status:\t%s\n", output.Dash(sprite.Status))
			fmt.Fprintf(w, "URL:\t%s\n", output.Dash(sprite.URL))
			fmt.Fprintf(w, "Created:\t%s\n", output.Dash(sprite.CreatedAt))
		})
	},
}

var spriteCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a sprite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := output.FromCmd(cmd)
		if err != nil {
			return err
		}

		urlAuth, _ := cmd.Flags().GetString("url-auth")
		switch sprites.URLAuth(urlAuth) {
		case "", sprites.URLAuthSprite, sprites.URLAuthPublic:
		default:
			return fmt.Errorf("invalid --url-auth %q (must be 'sprite' or 'public')", urlAuth)
		}

		sprite, err := client.New(GetConfig()).CreateSprite(cmd.Context(), args[0], sprites.URLAuth(urlAuth))
		if err != nil {
			return err
		}
		if formatter.IsJSON() {
			return formatter.Output(sprite)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sprite %s created (%s)\n", sprite.Name, output.Dash(sprite.Status))
		return nil
	},
}

var spriteDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a sprite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := output.FromCmd(cmd)
		if err != nil {
			return err
		}

		name := args[0]
		if err := client.New(GetConfig()).DeleteSprite(cmd.Context(), name); err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Sprite %s deleted", name), map[string]any{"name": name})
	},
}

var spriteInitCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Install the base toolchain in a sprite",
	Long: `Install the base toolchain in a sprite. With --repo the repository
is also cloned into the sprite's home directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := output.FromCmd(cmd)
		if err != nil {
			return err
		}

		name := args[0]
		repo, _ := cmd.Flags().GetString("repo")
		if formatter.IsText() {
			fmt.Fprintf(cmd.OutOrStdout(), "Initializing sprite %s...\n", name)
		}
		if err := client.New(GetConfig()).InitSprite(cmd.Context(), name, repo); err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Sprite %s initialized", name), map[string]any{"name": name, "repo_url": repo})
	},
}

func init() {
	for _, c := range []*cobra.Command{spriteListCmd, spriteGetCmd, spriteCreateCmd, spriteDeleteCmd, spriteInitCmd} {
		output.AddFormatFlag(c)
		spriteCmd.AddCommand(c)
	}
	spriteCreateCmd.Flags().String("url-auth", "", "who may open the sprite URL (sprite|public)")
	spriteInitCmd.Flags().String("repo", "", "git repository to clone into the sprite")
	rootCmd.AddCommand(spriteCmd)
}
