package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/allyourbase/ayb-twilio/internal/cli/ui"
	"github.com/allyourbase/ayb-twilio/internal/config"
	"github.com/allyourbase/ayb-twilio/internal/msglog"
	"github.com/allyourbase/ayb-twilio/internal/sms"
)

var sendCmd = &cobra.Command{
	Use:   "send [flags] <body...>",
	Short: "Send an SMS or MMS",
	Long: `Send a message through the configured provider. The destination is
normalized to E.164 first; numbers without a leading '+' need
phone.default_region or --default-region.

When webhook.public_url is configured, delivery updates are requested at
<public_url>/twilio/status unless --status-callback overrides it.`,
	Example: `ayb-twilio send --to +14155552671 "Your order shipped"
ayb-twilio send --to "(650) 253-0000" --default-region US "Hi"
ayb-twilio send --to +14155552671 --media https://example.com/cat.jpg "Look"`,
	Args: cobra.ArbitraryArgs,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("to", "", "Destination phone number")
	sendCmd.Flags().String("from", "", "Sender number (overrides twilio.from)")
	sendCmd.Flags().String("default-region", "", "Region for numbers without a country code, e.g. US")
	sendCmd.Flags().String("sms-provider", "", "Delivery provider: twilio, sns, or log")
	sendCmd.Flags().StringSlice("media", nil, "Media URL to attach (repeatable, Twilio only)")
	sendCmd.Flags().String("status-callback", "", "URL for delivery status callbacks")
	sendCmd.Flags().Bool("no-record", false, "Do not write the message to the local message log")
	_ = sendCmd.MarkFlagRequired("to")
}

type sendOutput struct {
	SID      string `json:"sid"`
	Status   string `json:"status"`
	To       string `json:"to"`
	Provider string `json:"provider"`
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, "from", "default-region", "sms-provider")
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	to, _ := cmd.Flags().GetString("to")
	media, _ := cmd.Flags().GetStringSlice("media")
	noRecord, _ := cmd.Flags().GetBool("no-record")
	body := strings.Join(args, " ")

	callback, _ := cmd.Flags().GetString("status-callback")
	if callback == "" && cfg.Webhook.PublicURL != "" {
		callback = cfg.StatusCallbackURL()
	}

	ctx := cmd.Context()
	var store *msglog.Store
	if !noRecord {
		store, err = msglog.Open(ctx, cfg.Webhook.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening message log: %w", err)
		}
		defer store.Close()
	}

	jsonOut := jsonOutput(cmd)
	sp := ui.NewStepSpinner(cmd.ErrOrStderr(), jsonOut || !colorEnabled())

	var res *sms.SendResult
	if len(media) > 0 {
		err = sp.Run("Sending MMS...", func() error {
			var err error
			res, err = sendMMS(cmd, cfg, store, to, body, media, callback)
			return err
		})
	} else {
		var p sms.Provider
		p, err = buildSMSProvider(ctx, cfg, callback, logger)
		if err != nil {
			return err
		}
		if store != nil {
			p = withRecording(p, store, cfg, logger)
		}
		err = sp.Run("Sending SMS...", func() error {
			var err error
			res, err = p.Send(ctx, to, body)
			return err
		})
	}
	if err != nil {
		return err
	}

	out := sendOutput{SID: res.MessageID, Status: res.Status, To: res.To, Provider: providerName(cfg)}
	if jsonOut {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
	}
	c := colorEnabled()
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s to %s (%s)\n",
		green(ui.SymbolCheck, c), bold(out.SID, c), out.To, out.Status)
	return nil
}

// sendMMS posts a message with media through the Twilio client directly,
// since the generic provider interface carries text only.
func sendMMS(cmd *cobra.Command, cfg *config.Config, store *msglog.Store, to, body string, media []string, callback string) (*sms.SendResult, error) {
	if providerName(cfg) != sms.ProviderTwilio {
		return nil, fmt.Errorf("--media requires sms.provider \"twilio\", got %q", cfg.SMS.Provider)
	}
	if cfg.Twilio.From == "" {
		return nil, fmt.Errorf("twilio.from is required to send messages (set AYB_TWILIO_FROM or pass --from)")
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	client, err := buildSMSClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	msg, err := client.NewMessage(cfg.Twilio.From, to, body)
	if err != nil {
		return nil, err
	}
	msg.MediaURLs = media
	msg.StatusCallback = callback

	sent, err := client.Send(cmd.Context(), msg)
	if err != nil {
		return nil, err
	}
	if store != nil {
		rec := sms.Record{
			MessageID: sent.SID,
			Provider:  sms.ProviderTwilio,
			From:      msg.From.E164(),
			To:        msg.To.E164(),
			Body:      body,
			Status:    string(sent.Status),
		}
		if err := store.RecordSent(cmd.Context(), rec); err != nil {
			logger.Error("failed to record sent message", "message_id", sent.SID, "error", err)
		}
	}
	return &sms.SendResult{MessageID: sent.SID, Status: string(sent.Status), To: sent.To}, nil
}

func providerName(cfg *config.Config) string {
	if cfg.SMS.Provider == "" {
		return sms.ProviderTwilio
	}
	return cfg.SMS.Provider
}
