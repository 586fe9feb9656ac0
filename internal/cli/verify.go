package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allyourbase/ayb-twilio/internal/cli/ui"
	"github.com/allyourbase/ayb-twilio/internal/twilio"
)

// errCodeRejected is returned by `verify check` when the code was not
// approved, so scripts can branch on the exit status.
var errCodeRejected = errors.New("verification code was not approved")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Start and check one-time-code verifications",
	Long: `Run a Verify flow against twilio.verify_service_sid. Start sends a code;
check submits the code the user entered.`,
}

var verifyStartCmd = &cobra.Command{
	Use:   "start <to>",
	Short: "Send a verification code",
	Example: `ayb-twilio verify start +14155552671
ayb-twilio verify start user@example.com --channel email`,
	Args: cobra.ExactArgs(1),
	RunE: runVerifyStart,
}

var verifyCheckCmd = &cobra.Command{
	Use:   "check <to|verification-sid> <code>",
	Short: "Check a verification code",
	Long: `Check a code. The first argument is the recipient, or a verification SID
when --sid is given. Exits non-zero unless the code is approved.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerifyCheck,
}

var verifyCancelCmd = &cobra.Command{
	Use:   "cancel <verification-sid>",
	Short: "Cancel a pending verification",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerifyCancel,
}

func init() {
	verifyStartCmd.Flags().String("channel", "sms", "Delivery channel: sms, call, email, or whatsapp")
	verifyStartCmd.Flags().String("default-region", "", "Region for numbers without a country code, e.g. US")
	verifyCheckCmd.Flags().Bool("sid", false, "Treat the first argument as a verification SID")
	verifyCheckCmd.Flags().String("default-region", "", "Region for numbers without a country code, e.g. US")

	verifyCmd.AddCommand(verifyStartCmd)
	verifyCmd.AddCommand(verifyCheckCmd)
	verifyCmd.AddCommand(verifyCancelCmd)
}

func newVerifyClientFromCmd(cmd *cobra.Command) (*twilio.VerifyClient, error) {
	cfg, err := loadConfig(cmd, "default-region")
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return buildVerifyClient(cfg, logger)
}

func runVerifyStart(cmd *cobra.Command, args []string) error {
	channelName, _ := cmd.Flags().GetString("channel")
	channel, err := twilio.ParseChannel(channelName)
	if err != nil {
		return err
	}
	client, err := newVerifyClientFromCmd(cmd)
	if err != nil {
		return err
	}

	jsonOut := jsonOutput(cmd)
	sp := ui.NewStepSpinner(cmd.ErrOrStderr(), jsonOut || !colorEnabled())
	var v *twilio.Verification
	err = sp.Run(fmt.Sprintf("Sending code via %s...", channel), func() error {
		var err error
		v, err = client.StartVerification(cmd.Context(), args[0], channel)
		return err
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(v)
	}
	c := colorEnabled()
	fmt.Fprintf(cmd.OutOrStdout(), "%s code sent to %s (%s, %s)\n",
		green(ui.SymbolCheck, c), v.To, v.Status, dim(v.SID, c))
	return nil
}

func runVerifyCheck(cmd *cobra.Command, args []string) error {
	client, err := newVerifyClientFromCmd(cmd)
	if err != nil {
		return err
	}
	bySID, _ := cmd.Flags().GetBool("sid")

	var check *twilio.VerificationCheck
	if bySID {
		check, err = client.CheckVerificationBySID(cmd.Context(), args[0], args[1])
	} else {
		check, err = client.CheckVerification(cmd.Context(), args[0], args[1])
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		if err := json.NewEncoder(out).Encode(check); err != nil {
			return err
		}
	} else {
		c := colorEnabled()
		if check.Approved() {
			fmt.Fprintf(out, "%s approved\n", green(ui.SymbolCheck, c))
		} else {
			fmt.Fprintf(out, "%s %s\n", yellow(ui.SymbolCross, c), check.Status)
		}
	}
	if !check.Approved() {
		return errCodeRejected
	}
	return nil
}

func runVerifyCancel(cmd *cobra.Command, args []string) error {
	client, err := newVerifyClientFromCmd(cmd)
	if err != nil {
		return err
	}
	v, err := client.CancelVerification(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(v)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", v.SID, v.Status)
	return err
}
