package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"spriteconsole/cli/pkg/client"
	"spriteconsole/cli/pkg/output"
)

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	Aliases: []string{"checkpoints"},
	Short:   "Sprite checkpoint commands",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list <sprite>",
	Short: "List a sprite's checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := output.FromCmd(cmd)
		if err != nil {
			return err
		}

		list, err := client.New(GetConfig()).ListCheckpoints(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if formatter.IsText() && len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No checkpoints found")
			return nil
		}
		return formatter.Render(list, func(w io.Writer) {
			fmt.Fprintln(w, "ID\tCREATED\tCOMMENT")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, output.Dash(c.CreateTime), output.Dash(c.Comment))
			}
		})
	},
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create <sprite>",
	Short: "Checkpoint a sprite's filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := output.FromCmd(cmd)
		if err != nil {
			return err
		}

		comment, _ := cmd.Flags().GetString("comment")
		id, err := client.New(GetConfig()).CreateCheckpoint(cmd.Context(), args[0], comment)
		if err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Checkpoint %s created", output.Dash(id)), map[string]any{"checkpoint_id": id})
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <sprite> <checkpoint-id>",
	Short: "Restore a sprite to a checkpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := output.FromCmd(cmd)
		if err != nil {
			return err
		}

		sprite, id := args[0], args[1]
		if err := client.New(GetConfig()).RestoreCheckpoint(cmd.Context(), sprite, id); err != nil {
			return err
		}
		return formatter.Success(fmt.Sprintf("Sprite %s restored to %s", sprite, id), map[string]any{"sprite": sprite, "checkpoint_id": id})
	},
}

func init() {
	for _, c := range []*cobra.Command{checkpointListCmd, checkpointCreateCmd, checkpointRestoreCmd} {
		output.AddFormatFlag(c)
		checkpointCmd.AddCommand(c)
	}
	checkpointCreateCmd.Flags().String("comment", "", "checkpoint comment")
	rootCmd.AddCommand(checkpointCmd)
}
