package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/allyourbase/ayb-twilio/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print resolved configuration",
	Long: `Load and print the resolved configuration as TOML.
Shows the result of merging defaults, ayb-twilio.toml, and environment
variables. The auth token and API token are masked.`,
	RunE: runConfig,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long: `Get a specific configuration value by dotted key path.
Examples: twilio.from, phone.default_region, webhook.port`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in ayb-twilio.toml",
	Long: `Set a configuration value in the config file.
Creates the file if it doesn't exist.
Examples:
  ayb-twilio config set twilio.account_sid AC0123456789abcdef0123456789abcdef
  ayb-twilio config set phone.default_region US
  ayb-twilio config set phone.allowed_countries US,CA`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default ayb-twilio.toml",
	RunE:  runConfigInit,
}

func init() {
	configGetCmd.Flags().Bool("show-secret", false, "Print secret values unmasked")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
}

// secretKeys are masked by `config get` unless --show-secret is given.
var secretKeys = map[string]bool{
	"twilio.auth_token": true,
	"webhook.api_token": true,
}

func configPathFlag(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	if p == "" {
		return config.DefaultPath
	}
	return p
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	shown := cfg.Redacted()
	out := cmd.OutOrStdout()

	if jsonOutput(cmd) {
		return json.NewEncoder(out).Encode(shown)
	}

	s, err := shown.ToTOML()
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}
	_, err = fmt.Fprint(out, s)
	return err
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	key := args[0]
	value, err := config.GetValue(cfg, key)
	if err != nil {
		return err
	}
	showSecret, _ := cmd.Flags().GetBool("show-secret")
	if secretKeys[key] && !showSecret && value != "" {
		value = "[REDACTED]"
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		return json.NewEncoder(out).Encode(map[string]any{"key": key, "value": value})
	}
	_, err = fmt.Fprintln(out, value)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	configPath := configPathFlag(cmd)
	key, value := args[0], args[1]

	if !config.IsValidKey(key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err := config.SetValue(configPath, key, value); err != nil {
		return fmt.Errorf("setting config value: %w", err)
	}

	out := cmd.OutOrStdout()
	shown := value
	if secretKeys[key] {
		shown = "[REDACTED]"
	}
	fmt.Fprintf(out, "%s = %s\n", key, shown)
	fmt.Fprintf(out, "Written to %s\n", configPath)

	// Only warn: values are often set one at a time.
	if _, err := config.Load(configPath, nil); err != nil {
		msg := err.Error()
		if _, rest, ok := strings.Cut(msg, ": "); ok {
			msg = rest
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Note: %s\n", msg)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configPathFlag(cmd)
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(configPath); err == nil && !force {
		return &hintError{
			err:   fmt.Errorf("%s already exists", configPath),
			hints: []string{"ayb-twilio config init --force"},
		}
	}
	if err := config.GenerateDefault(configPath); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	return err
}
