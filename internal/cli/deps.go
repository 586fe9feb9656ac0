package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/allyourbase/ayb-twilio/internal/config"
	"github.com/allyourbase/ayb-twilio/internal/msglog"
	"github.com/allyourbase/ayb-twilio/internal/phone"
	"github.com/allyourbase/ayb-twilio/internal/sms"
	"github.com/allyourbase/ayb-twilio/internal/twilio"
)

// loadConfig resolves the config for cmd, applying the named flags as
// overrides when they were set on the command line.
func loadConfig(cmd *cobra.Command, flagNames ...string) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	flags := make(map[string]string)
	for _, name := range flagNames {
		f := cmd.Flags().Lookup(name)
		if f != nil && f.Changed {
			flags[name] = f.Value.String()
		}
	}
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// clientOptions maps config onto twilio.Options for the given API host.
func clientOptions(cfg *config.Config, baseURL string, logger *slog.Logger) twilio.Options {
	return twilio.Options{
		BaseURL:        baseURL,
		Timeout:        cfg.Timeout(),
		DefaultRegion:  cfg.Phone.DefaultRegion,
		AllowedRegions: cfg.Phone.AllowedCountries,
		Logger:         logger,
	}
}

func buildCredentials(cfg *config.Config) (*twilio.Credentials, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}
	return twilio.NewCredentials(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
}

func buildSMSClient(cfg *config.Config, logger *slog.Logger) (*twilio.SMSClient, error) {
	creds, err := buildCredentials(cfg)
	if err != nil {
		return nil, err
	}
	return twilio.NewSMSClient(creds, clientOptions(cfg, cfg.Twilio.BaseURL, logger))
}

func buildVerifyClient(cfg *config.Config, logger *slog.Logger) (*twilio.VerifyClient, error) {
	creds, err := buildCredentials(cfg)
	if err != nil {
		return nil, err
	}
	return twilio.NewVerifyClient(creds, cfg.Twilio.VerifyServiceSID, clientOptions(cfg, cfg.Twilio.VerifyBaseURL, logger))
}

func phoneNormalizer(cfg *config.Config) phone.Normalizer {
	return phone.Normalizer{DefaultRegion: cfg.Phone.DefaultRegion, AllowedRegions: cfg.Phone.AllowedCountries}
}

// buildSMSProvider returns the configured delivery provider. statusCallback
// is passed to Twilio sends and ignored by the others.
func buildSMSProvider(ctx context.Context, cfg *config.Config, statusCallback string, logger *slog.Logger) (sms.Provider, error) {
	switch cfg.SMS.Provider {
	case sms.ProviderTwilio, "":
		if cfg.Twilio.From == "" {
			return nil, fmt.Errorf("twilio.from is required to send messages (set AYB_TWILIO_FROM or pass --from)")
		}
		client, err := buildSMSClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return sms.NewTwilioProvider(client, cfg.Twilio.From).WithStatusCallback(statusCallback), nil
	case sms.ProviderSNS:
		publisher, err := sms.NewAWSPublisher(ctx, cfg.SMS.AWSRegion)
		if err != nil {
			return nil, err
		}
		return sms.NewSNSProvider(publisher, phoneNormalizer(cfg)), nil
	case sms.ProviderLog:
		return sms.NewLogProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown sms provider %q", cfg.SMS.Provider)
	}
}

// withRecording wraps p so successful sends land in the message log.
func withRecording(p sms.Provider, store *msglog.Store, cfg *config.Config, logger *slog.Logger) sms.Provider {
	return sms.NewRecordingProvider(p, store, providerName(cfg), cfg.Twilio.From, logger)
}
