package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	actionPlatforms   []string
	actionParams      []string
	actionParamsFile  string
	actionProjectID   string
	actionDescription string
	actionConfirm     bool
	actionListLimit   int
)

var actionCmd = &cobra.Command{
	Use:   "action",
	Short: "Run and inspect cross-platform actions",
}

var actionRunCmd = &cobra.Command{
	Use:   "run <action-type>",
	Short: "Execute an action",
	Long: `Execute an action from the server's template catalog.

Parameters are given as key=value. Values that parse as JSON keep their
type, so --param count=3 sends a number and --param text=hello a string.

Examples:
  sitectl action run send_message --platform whatsapp --param recipient=+15550100 --param text="Crane inspection at 2pm"
  sitectl action run safety_alert_broadcast --platform whatsapp --platform google_workspace --params-file alert.json --confirm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := loadParams(actionParamsFile, actionParams)
		if err != nil {
			return err
		}

		action := models.PlatformAction{
			Type:                 args[0],
			Parameters:           params,
			ConfirmationRequired: actionConfirm,
			Description:          actionDescription,
		}
		for _, p := range actionPlatforms {
			action.Platforms = append(action.Platforms, models.Platform(p))
		}

		client, ctx, cancel := newClient(cmd)
		defer cancel()

		sub, err := client.ExecuteAction(ctx, action, actionProjectID)
		if err != nil {
			return fmt.Errorf("failed to execute action: %w", err)
		}

		if outputJSON {
			if sub.Result != nil {
				return printJSON(sub.Result)
			}
			return printJSON(sub)
		}

		if sub.Result == nil {
			fmt.Printf("Action %s is %s and waits for confirmation\n", sub.ActionID, sub.Status)
			fmt.Println("Approve it with:")
			fmt.Printf("  sitectl confirmations approve %s\n", sub.ActionID)
			return nil
		}
		printExecutionResult(sub.Result)
		return nil
	},
}

var actionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent executions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		execs, err := client.ListExecutions(ctx, actionListLimit)
		if err != nil {
			return fmt.Errorf("failed to list executions: %w", err)
		}

		if outputJSON {
			return printJSON(execs)
		}
		if len(execs) == 0 {
			fmt.Println("No executions found")
			return nil
		}

		tw := newTable()
		tw.AppendHeader(table.Row{"Action ID", "Type", "Status", "Started", "Steps", "User"})
		for _, e := range execs {
			tw.AppendRow(table.Row{e.ActionID, e.ActionType, e.Status, formatTime(e.StartTime), len(e.Steps), e.UserID})
		}
		tw.Render()
		return nil
	},
}

var actionShowCmd = &cobra.Command{
	Use:   "show <action-id>",
	Short: "Show one execution and its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		exec, err := client.GetExecution(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get execution: %w", err)
		}

		if outputJSON {
			return printJSON(exec)
		}
		printExecution(exec)
		return nil
	},
}

var actionCancelCmd = &cobra.Command{
	Use:   "cancel <action-id>",
	Short: "Cancel an action that is waiting for confirmation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		if err := client.CancelAction(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to cancel action: %w", err)
		}
		fmt.Printf("Action %s cancelled\n", args[0])
		return nil
	},
}

var actionTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the action templates the server can run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := newClient(cmd)
		defer cancel()

		templates, err := client.Templates(ctx)
		if err != nil {
			return fmt.Errorf("failed to list templates: %w", err)
		}

		if outputJSON {
			return printJSON(templates)
		}

		tw := newTable()
		tw.AppendHeader(table.Row{"Type", "Name", "Platforms", "Required parameters", "Steps"})
		for _, t := range templates {
			platforms := make([]string, 0, len(t.PlatformsInvolved))
			for _, p := range t.PlatformsInvolved {
				platforms = append(platforms, string(p))
			}
			tw.AppendRow(table.Row{t.ID, t.Name, strings.Join(platforms, ", "), strings.Join(t.RequiredParameters, ", "), len(t.Steps)})
		}
		tw.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(actionCmd)
	actionCmd.AddCommand(actionRunCmd, actionListCmd, actionShowCmd, actionCancelCmd, actionTemplatesCmd)

	actionRunCmd.Flags().StringSliceVar(&actionPlatforms, "platform", nil, "Target platform (repeatable)")
	actionRunCmd.Flags().StringArrayVar(&actionParams, "param", nil, "Action parameter as key=value (repeatable)")
	actionRunCmd.Flags().StringVar(&actionParamsFile, "params-file", "", "JSON file with action parameters")
	actionRunCmd.Flags().StringVar(&actionProjectID, "project", "", "Project the action belongs to")
	actionRunCmd.Flags().StringVar(&actionDescription, "description", "", "Human readable description shown on confirmation")
	actionRunCmd.Flags().BoolVar(&actionConfirm, "confirm", false, "Require confirmation before the action runs")
	actionRunCmd.MarkFlagRequired("platform")

	actionListCmd.Flags().IntVar(&actionListLimit, "limit", 20, "Number of executions to show")
}

// loadParams merges a JSON parameter file with key=value pairs; pairs win
func loadParams(file string, pairs []string) (map[string]interface{}, error) {
	params := make(map[string]interface{})

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read params file: %w", err)
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, fmt.Errorf("invalid params file: %w", err)
		}
	}

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}

		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		params[key] = value
	}

	return params, nil
}

func printExecutionResult(result *models.ExecutionResult) {
	fmt.Printf("Action %s finished: %s (%dms)\n", result.ActionID, result.Status, result.ExecutionTimeMs)

	platforms := make([]string, 0, len(result.PerPlatformResults))
	for p := range result.PerPlatformResults {
		platforms = append(platforms, string(p))
	}
	sort.Strings(platforms)

	tw := newTable()
	tw.AppendHeader(table.Row{"Platform", "Success", "Error"})
	for _, p := range platforms {
		r := result.PerPlatformResults[models.Platform(p)]
		tw.AppendRow(table.Row{p, r.Success, truncate(r.Error, 60)})
	}
	tw.Render()

	for _, e := range result.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	if result.RollbackAvailable {
		fmt.Println("Completed steps can be rolled back")
	}
}

func printExecution(exec *models.ActionExecution) {
	fmt.Printf("Action:  %s\n", exec.ActionID)
	fmt.Printf("Type:    %s\n", exec.ActionType)
	fmt.Printf("Status:  %s\n", exec.Status)
	fmt.Printf("Started: %s\n", formatTime(exec.StartTime))
	if exec.EndTime != nil {
		fmt.Printf("Ended:   %s\n", formatTime(*exec.EndTime))
	}

	if len(exec.Steps) > 0 {
		tw := newTable()
		tw.AppendHeader(table.Row{"Step", "Platform", "Status", "Error"})
		for _, s := range exec.Steps {
			tw.AppendRow(table.Row{s.StepID, s.Platform, s.Status, truncate(s.Error, 60)})
		}
		tw.Render()
	}

	for _, e := range exec.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
