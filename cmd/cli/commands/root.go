package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/davidmoltin/site-integrations/internal/cli"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	apiURL     string
	apiToken   string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "sitectl",
	Short: "Site Integrations CLI - query and operate construction site integrations",
	Long: `The Site Integrations CLI talks to the integration API to ask questions
across WhatsApp and Google Workspace, run cross-platform actions, approve
pending confirmations, and inspect integration health.

Examples:
  sitectl query "what happened on site this week?"
  sitectl status --check
  sitectl alerts --platform whatsapp
  sitectl action run send_message --platform whatsapp --param recipient=+15550100 --param text="Pour delayed"
  sitectl confirmations approve <id>`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sitectl.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Integration API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "api-token", "", "API bearer token")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results in JSON format")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Request timeout")

	// Bind flags to viper
	viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("api.token", rootCmd.PersistentFlags().Lookup("api-token"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sitectl")
	}

	// SITECTL_API_URL, SITECTL_API_TOKEN
	viper.SetEnvPrefix("SITECTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !outputJSON {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds an API client and a request context from the resolved config
func newClient(cmd *cobra.Command) (*cli.Client, context.Context, context.CancelFunc) {
	client := cli.NewClient(viper.GetString("api.url"), viper.GetString("api.token"))
	ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
	return client, ctx, cancel
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
