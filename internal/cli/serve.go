package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/allyourbase/ayb-twilio/internal/cli/ui"
	"github.com/allyourbase/ayb-twilio/internal/config"
	"github.com/allyourbase/ayb-twilio/internal/msglog"
	"github.com/allyourbase/ayb-twilio/internal/server"
	"github.com/allyourbase/ayb-twilio/internal/signature"
	"github.com/allyourbase/ayb-twilio/internal/sms"
	"github.com/allyourbase/ayb-twilio/internal/webhook"
)

const pruneInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signed callback receiver",
	Long: `Receive delivery status and inbound message callbacks. Every callback
must carry a valid X-Twilio-Signature for twilio.auth_token; anything else
is rejected with 403. Status updates are written to the message log.

Configure the provider to call <public_url>/twilio/status and
<public_url>/twilio/inbound. When webhook.api_token is set, the message log
is also served at /api/messages.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "Listen host (overrides webhook.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides webhook.port)")
	serveCmd.Flags().String("public-url", "", "Public URL the provider calls (overrides webhook.public_url)")
	serveCmd.Flags().String("database", "", "Message log path (overrides webhook.database_path)")
	serveCmd.Flags().String("from", "", "Sender for POST /api/messages (overrides twilio.from)")
	serveCmd.Flags().String("sms-provider", "", "Provider for POST /api/messages: twilio, sns, or log")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, "host", "port", "public-url", "database", "from", "sms-provider")
	if err != nil {
		return err
	}
	creds, err := buildCredentials(cfg)
	if err != nil {
		return err
	}
	defer creds.Destroy()

	logger, logPath, closeLog := newServerLogger(cfg.Logging.Level, cfg.Logging.Format)
	defer closeLog()

	// Register signal handlers before any blocking work.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := msglog.Open(ctx, cfg.Webhook.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening message log: %w", err)
	}
	defer store.Close()

	// The send endpoint is only offered when a sender is fully configured.
	var sender sms.Provider
	if cfg.Webhook.APIToken != "" {
		p, err := buildSMSProvider(ctx, cfg, cfg.StatusCallbackURL(), logger)
		if err != nil {
			logger.Warn("POST /api/messages disabled", "reason", err)
		} else {
			sender = withRecording(p, store, cfg, logger)
		}
	}

	h := webhook.NewHandler(webhook.Config{
		PublicURL:  cfg.Webhook.PublicURL,
		AccountSID: cfg.Twilio.AccountSID,
		APIToken:   cfg.Webhook.APIToken,
	}, store, signature.NewVerifier(creds), sender, logger)

	srv := server.New(cfg, logger, h.Routes(), store)
	srv.StartPruner(pruneInterval, cfg.Retention())

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.StartWithReady(ready) }()

	select {
	case <-ready:
		printServeBanner(os.Stderr, cfg, sender != nil, logPath, colorEnabled())
	case err := <-errCh:
		return portError(cfg.Webhook.Port, err)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
		fmt.Fprintf(os.Stderr, "\n  Shutting down... (press Ctrl-C again to force)\n")
		stop() // Second Ctrl-C triggers Go default (immediate exit).
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		return nil
	}
}

// portError rewrites a listen failure with a hint when the port is taken.
func portError(port int, err error) error {
	if isAddrInUse(err) {
		return &hintError{
			err:   fmt.Errorf("port %d is already in use", port),
			hints: []string{fmt.Sprintf("ayb-twilio serve --port %d", port+1)},
		}
	}
	return err
}

// printServeBanner writes a human-readable startup summary to w.
func printServeBanner(w io.Writer, cfg *config.Config, sendEnabled bool, logPath string, useColor bool) {
	base := cfg.PublicBaseURL()
	padLabel := func(label string) string {
		return bold(fmt.Sprintf("%-10s", label), useColor)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", ui.BrandEmoji, boldCyan("ayb-twilio "+bannerVersion(buildVersion), useColor))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", padLabel("Listen:"), cfg.Address())
	fmt.Fprintf(w, "  %s %s\n", padLabel("Status:"), cyan(base+"/twilio/status", useColor))
	fmt.Fprintf(w, "  %s %s\n", padLabel("Inbound:"), cyan(base+"/twilio/inbound", useColor))
	if cfg.Webhook.APIToken != "" {
		api := base + "/api/messages"
		if !sendEnabled {
			api += " (read-only)"
		}
		fmt.Fprintf(w, "  %s %s\n", padLabel("API:"), cyan(api, useColor))
	}
	fmt.Fprintf(w, "  %s %s\n", padLabel("Database:"), cfg.Webhook.DatabasePath)
	if logPath != "" {
		fmt.Fprintf(w, "  %s %s\n", padLabel("Logs:"), dim(logPath, useColor))
	}
	if cfg.Webhook.PublicURL == "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s\n", yellow(
			"WARNING: webhook.public_url is not set. Signatures are checked against the request's own host,",
			useColor))
		fmt.Fprintf(w, "  %s\n", yellow("which fails behind most proxies.", useColor))
	}
	fmt.Fprintln(w)
}

// bannerVersion extracts a clean version string for the startup banner.
// Release builds (e.g. "v0.1.0") → "v0.1.0".
// Dev builds (e.g. "v0.1.0-43-ge534c04-dirty") → "v0.1.0-dev".
func bannerVersion(raw string) string {
	if raw == "dev" {
		return raw
	}
	v := "v" + strings.TrimPrefix(raw, "v")
	base, rest, ok := strings.Cut(v, "-")
	if !ok {
		return v
	}
	// A digit after the hyphen is a git-describe commit count, not a
	// pre-release label.
	if rest != "" && rest[0] >= '0' && rest[0] <= '9' {
		return base + "-dev"
	}
	return v
}
