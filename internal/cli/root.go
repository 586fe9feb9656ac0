package cli

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/allyourbase/ayb-twilio/internal/twilio"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersion is called from main to inject build-time version info.
func SetVersion(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	twilio.UserAgent = "ayb-twilio/" + version
}

var rootCmd = &cobra.Command{
	Use:   "ayb-twilio",
	Short: "Twilio messaging, verification, and callback receiver",
	Long: `ayb-twilio sends SMS and MMS, runs Verify flows, and receives signed
delivery callbacks. One binary, one config file.

Get started:
  ayb-twilio config init
  ayb-twilio send --to +14155552671 "Hello from ayb-twilio"
  ayb-twilio serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to ayb-twilio.toml config file")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("output", "", "Output format: table, json, or csv")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(phoneCmd)
	rootCmd.AddCommand(signatureCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	initHelp()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// jsonOutput reports whether JSON output was requested.
func jsonOutput(cmd *cobra.Command) bool {
	return outputFormat(cmd) == "json"
}

// outputFormat resolves --json and --output into one format name.
func outputFormat(cmd *cobra.Command) string {
	jsonFlag, _ := cmd.Flags().GetBool("json")
	if jsonFlag {
		return "json"
	}
	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		return "table"
	}
	return out
}

// writeCSV writes rows as CSV to the given writer.
func writeCSV(w io.Writer, cols []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
