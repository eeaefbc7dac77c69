package commands

import (
	"fmt"

	"github.com/davidmoltin/site-integrations/internal/cli"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var runCheck bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show integration health",
	Long: `Show the health of every platform integration and the webhook queue.

Examples:
  sitectl status
  sitectl status --check     # run a fresh health sweep first`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		var (
			report *cli.StatusReport
			err    error
		)
		if runCheck {
			report, err = client.RunChecks(ctx)
		} else {
			report, err = client.GetStatus(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		if outputJSON {
			return printJSON(report)
		}
		printStatus(report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&runCheck, "check", false, "Run health checks now instead of showing the last result")
}

func printStatus(report *cli.StatusReport) {
	s := report.Summary
	fmt.Printf("Integrations: %d total, %d connected, %d healthy. Active alerts: %d\n",
		s.TotalIntegrations, s.ConnectedIntegrations, s.HealthyIntegrations, s.ActiveAlerts)
	if s.LastChecked != nil {
		fmt.Printf("Last checked: %s\n", formatTime(*s.LastChecked))
	}
	if len(report.Services) == 0 {
		fmt.Println("No health checks have run yet")
		return
	}

	tw := newTable()
	tw.AppendHeader(table.Row{"Service", "Status", "Connectivity", "Auth", "Response", "Warnings"})
	for _, svc := range report.Services {
		warnings := ""
		if len(svc.Warnings) > 0 {
			warnings = truncate(svc.Warnings[0], 48)
			if len(svc.Warnings) > 1 {
				warnings += fmt.Sprintf(" (+%d)", len(svc.Warnings)-1)
			}
		}
		tw.AppendRow(table.Row{
			svc.Service,
			svc.Status,
			svc.Connectivity,
			svc.Authentication,
			fmt.Sprintf("%dms", svc.ResponseTimeMs),
			warnings,
		})
	}
	tw.Render()
}
