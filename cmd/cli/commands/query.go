package commands

import (
	"fmt"
	"strings"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var showDetails bool

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question across all integrations",
	Long: `Ask a natural-language question. The server classifies the intent,
queries every connected platform, and returns a single summary.

Examples:
  sitectl query "any safety issues reported today?"
  sitectl query "what's on the schedule next week" --details`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		resp, err := client.Query(ctx, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		if outputJSON {
			return printJSON(resp)
		}
		printQueryResponse(resp)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().BoolVar(&showDetails, "details", false, "List every detail item")
}

func printQueryResponse(resp *models.IntegratedResponse) {
	fmt.Printf("Intent: %s (confidence %.2f)\n\n", resp.Intent.Type, resp.Intent.Confidence)
	fmt.Println(resp.AggregatedSummary)
	fmt.Println()

	tw := newTable()
	tw.AppendHeader(table.Row{"Source", "Status", "Items", "Response", "Error"})
	for platform, src := range resp.Sources {
		tw.AppendRow(table.Row{platform, src.Status, len(src.Data), fmt.Sprintf("%dms", src.ResponseTimeMs), truncate(src.Error, 40)})
	}
	tw.SortBy([]table.SortBy{{Name: "Source", Mode: table.Asc}})
	tw.Render()

	if showDetails && len(resp.Details) > 0 {
		dt := newTable()
		dt.AppendHeader(table.Row{"When", "Source", "Kind", "Title"})
		for _, d := range resp.Details {
			dt.AppendRow(table.Row{formatTime(d.Timestamp), d.Source, d.Kind, truncate(d.Title, 60)})
		}
		dt.Render()
	}

	for _, c := range resp.Conflicts {
		fmt.Printf("Conflict: %s\n", c.Description)
	}

	if len(resp.SuggestedActions) > 0 {
		fmt.Println("\nSuggested actions:")
		for _, a := range resp.SuggestedActions {
			fmt.Printf("  %s: %s\n", a.Type, a.Description)
		}
	}
	fmt.Printf("\nAnswered in %dms\n", resp.ResponseTimeMs)
}
