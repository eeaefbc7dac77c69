package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var confirmationsCmd = &cobra.Command{
	Use:     "confirmations",
	Aliases: []string{"confirm"},
	Short:   "List and decide actions waiting for confirmation",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		pending, err := client.PendingConfirmations(ctx)
		if err != nil {
			return fmt.Errorf("failed to list confirmations: %w", err)
		}

		if outputJSON {
			return printJSON(pending)
		}
		if len(pending) == 0 {
			fmt.Println("Nothing is waiting for confirmation")
			return nil
		}

		tw := newTable()
		tw.AppendHeader(table.Row{"ID", "Action", "Platforms", "Impact", "Expires in", "Description"})
		for _, c := range pending {
			platforms := make([]string, 0, len(c.Platforms))
			for _, p := range c.Platforms {
				platforms = append(platforms, string(p))
			}
			tw.AppendRow(table.Row{
				c.ID,
				c.ActionType,
				strings.Join(platforms, ", "),
				c.EstimatedImpact,
				time.Until(c.ExpiresAt).Round(time.Second),
				truncate(c.Description, 40),
			})
		}
		tw.Render()
		return nil
	},
}

func decideCmd(use, done, short string, approve bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <confirmation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel := newClient(cmd)
			defer cancel()

			if err := client.Decide(ctx, args[0], approve); err != nil {
				return fmt.Errorf("failed to %s: %w", use, err)
			}
			fmt.Printf("Confirmation %s %s\n", args[0], done)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(confirmationsCmd)
	confirmationsCmd.AddCommand(
		decideCmd("approve", "approved", "Approve a pending action", true),
		decideCmd("reject", "rejected", "Reject a pending action", false),
	)
}
