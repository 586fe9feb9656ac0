package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/allyourbase/ayb-twilio/internal/msglog"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List messages in the local message log",
	Long: `List sent and received messages recorded in webhook.database_path,
newest first, with their latest delivery status.`,
	Example: `ayb-twilio history --status failed
ayb-twilio history --to +14155552671 --output csv`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <sid>",
	Short: "Show one message and its status events",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete messages older than a cutoff",
	RunE:  runHistoryPrune,
}

func init() {
	historyCmd.Flags().String("to", "", "Only messages to this number (E.164)")
	historyCmd.Flags().String("status", "", "Only messages with this status")
	historyCmd.Flags().Int("limit", 50, "Maximum number of messages")
	historyPruneCmd.Flags().Duration("older-than", 0, "Age cutoff, e.g. 720h (default: webhook.retention_days)")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
}

func openMessageLog(cmd *cobra.Command) (*msglog.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, err := msglog.Open(cmd.Context(), cfg.Webhook.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening message log: %w", err)
	}
	return store, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openMessageLog(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	to, _ := cmd.Flags().GetString("to")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	msgs, err := store.List(cmd.Context(), msglog.Filter{To: to, Status: status, Limit: limit})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	outFmt := outputFormat(cmd)
	if outFmt == "json" {
		return json.NewEncoder(out).Encode(msgs)
	}

	cols := []string{"SID", "Provider", "To", "Status", "Error", "Sent"}
	rows := make([][]string, len(msgs))
	for i, m := range msgs {
		errCode := ""
		if m.ErrorCode != 0 {
			errCode = strconv.Itoa(m.ErrorCode)
		}
		rows[i] = []string{m.SID, m.Provider, m.To, m.Status, errCode, m.SentAt.Local().Format(time.DateTime)}
	}

	if outFmt == "csv" {
		return writeCSV(out, cols, rows)
	}

	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("---\t", len(cols)))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d message(s)\n", len(msgs))
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openMessageLog(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	m, err := store.Get(ctx, args[0])
	if errors.Is(err, msglog.ErrNotFound) {
		return fmt.Errorf("message %s is not in the message log", args[0])
	}
	if err != nil {
		return err
	}
	events, err := store.Events(ctx, m.SID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		return json.NewEncoder(out).Encode(map[string]any{"message": m, "events": events})
	}

	c := colorEnabled()
	fmt.Fprintf(out, "%s %s\n", bold("SID:     ", c), m.SID)
	fmt.Fprintf(out, "%s %s\n", bold("Provider:", c), m.Provider)
	fmt.Fprintf(out, "%s %s\n", bold("From:    ", c), m.From)
	fmt.Fprintf(out, "%s %s\n", bold("To:      ", c), m.To)
	fmt.Fprintf(out, "%s %s\n", bold("Status:  ", c), statusColor(m.Status, c))
	if m.ErrorCode != 0 {
		fmt.Fprintf(out, "%s %d %s\n", bold("Error:   ", c), m.ErrorCode, m.ErrorMessage)
	}
	if m.Body != "" {
		fmt.Fprintf(out, "%s %s\n", bold("Body:    ", c), m.Body)
	}
	fmt.Fprintf(out, "%s %s\n", bold("Sent:    ", c), m.SentAt.Local().Format(time.DateTime))
	if len(events) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, heading("EVENTS", c))
		for _, e := range events {
			line := fmt.Sprintf("  %s  %s", dim(e.ReceivedAt.Local().Format(time.DateTime), c), statusColor(e.Status, c))
			if e.ErrorCode != 0 {
				line += fmt.Sprintf(" (%d)", e.ErrorCode)
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan == 0 {
		olderThan = cfg.Retention()
	}
	if olderThan <= 0 {
		return fmt.Errorf("nothing to prune: webhook.retention_days is 0 and --older-than was not given")
	}

	store, err := msglog.Open(cmd.Context(), cfg.Webhook.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening message log: %w", err)
	}
	defer store.Close()

	n, err := store.Prune(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"pruned": n})
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d message(s) older than %s\n", n, olderThan)
	return err
}

// statusColor highlights terminal delivery states.
func statusColor(status string, c bool) string {
	switch status {
	case "delivered", "read", "received":
		return green(status, c)
	case "failed", "undelivered", "canceled":
		return yellow(status, c)
	default:
		return status
	}
}
