package commands

import (
	"fmt"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	alertPlatform string
	historyLimit  int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List integration alerts",
	Long: `List the alerts raised by the health monitor.

Examples:
  sitectl alerts
  sitectl alerts --platform google_workspace
  sitectl alerts ack <alert-id>
  sitectl alerts history --limit 50`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		alerts, err := client.ListAlerts(ctx, alertPlatform)
		if err != nil {
			return fmt.Errorf("failed to list alerts: %w", err)
		}

		if outputJSON {
			return printJSON(alerts)
		}
		if len(alerts) == 0 {
			fmt.Println("No alerts")
			return nil
		}

		tw := newTable()
		tw.AppendHeader(table.Row{"ID", "Severity", "Platform", "Title", "Raised", "Ack"})
		for _, a := range alerts {
			ack := ""
			if a.Acknowledged {
				ack = "yes"
			}
			tw.AppendRow(table.Row{a.ID, a.Severity, a.Platform, truncate(a.Title, 40), formatTime(a.Timestamp), ack})
		}
		tw.Render()
		return nil
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		if err := client.AcknowledgeAlert(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to acknowledge alert: %w", err)
		}
		fmt.Printf("Alert %s acknowledged\n", args[0])
		return nil
	},
}

var alertsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show persisted alert transitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		entries, err := client.AlertHistory(ctx, alertPlatform, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to get alert history: %w", err)
		}

		if outputJSON {
			return printJSON(entries)
		}
		printAlertHistory(entries)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsAckCmd, alertsHistoryCmd)
	alertsCmd.PersistentFlags().StringVar(&alertPlatform, "platform", "", "Only show alerts for this platform")
	alertsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries to show")
}

func printAlertHistory(entries []models.AlertHistoryEntry) {
	if len(entries) == 0 {
		fmt.Println("No alert history")
		return
	}

	tw := newTable()
	tw.AppendHeader(table.Row{"When", "Event", "Alert", "Severity", "Platform", "Title"})
	for _, e := range entries {
		tw.AppendRow(table.Row{formatTime(e.OccurredAt), e.Kind, e.AlertID, e.Severity, e.Platform, truncate(e.Title, 40)})
	}
	tw.Render()
}
