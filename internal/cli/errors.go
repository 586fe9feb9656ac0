package cli

import (
	"errors"
	"strings"
	"syscall"

	"github.com/allyourbase/ayb-twilio/internal/phone"
	"github.com/allyourbase/ayb-twilio/internal/twilio"
)

// hintError carries fix suggestions alongside the error itself.
type hintError struct {
	err   error
	hints []string
}

func (e *hintError) Error() string { return e.err.Error() }
func (e *hintError) Unwrap() error { return e.err }

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "address already in use")
}

// Suggestions returns follow-up commands worth printing under err.
func Suggestions(err error) []string {
	if err == nil {
		return nil
	}
	var he *hintError
	if errors.As(err, &he) {
		return he.hints
	}

	var pe *twilio.ProviderError
	if errors.As(err, &pe) {
		if pe.Unauthorized() {
			return []string{
				"ayb-twilio config get twilio.account_sid",
				"ayb-twilio config set twilio.auth_token <token>",
			}
		}
		if pe.MoreInfo != "" {
			return []string{pe.MoreInfo}
		}
		return nil
	}

	var ve *phone.ValidationError
	if errors.As(err, &ve) && ve.Region == "" && !strings.HasPrefix(strings.TrimSpace(ve.Input), "+") {
		return []string{"pass --default-region US, or use E.164 form (+14155552671)"}
	}

	var ce *twilio.ConfigError
	if errors.As(err, &ce) && ce.Field == "verify_service_sid" {
		return []string{"ayb-twilio config set twilio.verify_service_sid VA..."}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "twilio.account_sid is required"):
		return []string{"ayb-twilio config init", "ayb-twilio config set twilio.account_sid AC..."}
	case strings.Contains(msg, "twilio.auth_token is required"):
		return []string{"export AYB_TWILIO_AUTH_TOKEN=..."}
	case strings.Contains(msg, "twilio.from is required"):
		return []string{"ayb-twilio config set twilio.from +14155550100"}
	}
	return nil
}
