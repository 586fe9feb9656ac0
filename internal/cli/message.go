package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allyourbase/ayb-twilio/internal/msglog"
	"github.com/allyourbase/ayb-twilio/internal/phone"
	"github.com/allyourbase/ayb-twilio/internal/twilio"
)

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Inspect sent messages",
}

var messageGetCmd = &cobra.Command{
	Use:   "get <sid>",
	Short: "Fetch a message's current state from the provider",
	Long: `Fetch a message by SID from the provider. With --sync, the fetched
status is also written to the local message log.`,
	Args: cobra.ExactArgs(1),
	RunE: runMessageGet,
}

var phoneCmd = &cobra.Command{
	Use:   "phone",
	Short: "Phone number utilities",
}

var phoneNormalizeCmd = &cobra.Command{
	Use:   "normalize <number>",
	Short: "Normalize a phone number to E.164",
	Example: `ayb-twilio phone normalize +442079460958
ayb-twilio phone normalize "(650) 253-0000" --default-region US`,
	Args: cobra.ExactArgs(1),
	RunE: runPhoneNormalize,
}

func init() {
	messageGetCmd.Flags().Bool("sync", false, "Write the fetched status to the message log")
	messageCmd.AddCommand(messageGetCmd)

	phoneNormalizeCmd.Flags().String("default-region", "", "Region for numbers without a country code, e.g. US")
	phoneCmd.AddCommand(phoneNormalizeCmd)
}

func runMessageGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	client, err := buildSMSClient(cfg, logger)
	if err != nil {
		return err
	}
	msg, err := client.FetchMessage(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if sync, _ := cmd.Flags().GetBool("sync"); sync {
		if err := syncMessage(cmd, cfg.Webhook.DatabasePath, msg); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		return json.NewEncoder(out).Encode(msg)
	}
	c := colorEnabled()
	fmt.Fprintf(out, "%s %s\n", bold("SID:   ", c), msg.SID)
	fmt.Fprintf(out, "%s %s\n", bold("Status:", c), msg.Status)
	fmt.Fprintf(out, "%s %s\n", bold("From:  ", c), msg.From)
	fmt.Fprintf(out, "%s %s\n", bold("To:    ", c), msg.To)
	if msg.ErrorCode != nil {
		fmt.Fprintf(out, "%s %d\n", bold("Error: ", c), *msg.ErrorCode)
	}
	if msg.Body != "" {
		fmt.Fprintf(out, "%s %s\n", bold("Body:  ", c), msg.Body)
	}
	return nil
}

func syncMessage(cmd *cobra.Command, dbPath string, msg *twilio.Message) error {
	store, err := msglog.Open(cmd.Context(), dbPath)
	if err != nil {
		return fmt.Errorf("opening message log: %w", err)
	}
	defer store.Close()
	u := msglog.StatusUpdate{
		SID:        msg.SID,
		AccountSID: msg.AccountSID,
		From:       msg.From,
		To:         msg.To,
		Status:     string(msg.Status),
	}
	if msg.ErrorCode != nil {
		u.ErrorCode = *msg.ErrorCode
	}
	if msg.ErrorMessage != nil {
		u.ErrorMessage = *msg.ErrorMessage
	}
	return store.UpdateStatus(cmd.Context(), u)
}

type normalizeOutput struct {
	E164        string `json:"e164"`
	Region      string `json:"region"`
	CountryCode int    `json:"countryCode"`
}

func runPhoneNormalize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, "default-region")
	if err != nil {
		return err
	}
	num, err := phone.Normalize(args[0], cfg.Phone.DefaultRegion)
	if err != nil {
		return err
	}
	out := normalizeOutput{E164: num.E164(), Region: num.Region(), CountryCode: num.CountryCode()}
	if jsonOutput(cmd) {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, +%d)\n", out.E164, out.Region, out.CountryCode)
	return err
}
