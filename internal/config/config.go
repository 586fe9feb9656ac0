package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/allyourbase/ayb-twilio/internal/phone"
)

// DefaultPath is the config file read when no --config flag is given.
const DefaultPath = "ayb-twilio.toml"

// Config is the top-level ayb-twilio configuration.
type Config struct {
	Twilio  TwilioConfig  `toml:"twilio"`
	Phone   PhoneConfig   `toml:"phone"`
	SMS     SMSConfig     `toml:"sms"`
	Webhook WebhookConfig `toml:"webhook"`
	Logging LoggingConfig `toml:"logging"`
}

type TwilioConfig struct {
	AccountSID       string `toml:"account_sid"`
	AuthToken        string `toml:"auth_token"`
	BaseURL          string `toml:"base_url"`        // empty = production Messaging API
	VerifyBaseURL    string `toml:"verify_base_url"` // empty = production Verify API
	VerifyServiceSID string `toml:"verify_service_sid"`
	From             string `toml:"from"`    // default sender
	Timeout          int    `toml:"timeout"` // seconds per call
}

type PhoneConfig struct {
	DefaultRegion    string   `toml:"default_region"` // ISO 3166-1 alpha-2, applied to numbers without '+'
	AllowedCountries []string `toml:"allowed_countries"`
}

type SMSConfig struct {
	Provider  string `toml:"provider"` // "twilio" (default), "sns", "log"
	AWSRegion string `toml:"aws_region"`
}

type WebhookConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	PublicURL       string `toml:"public_url"` // scheme://host the provider calls; signatures cover it
	DatabasePath    string `toml:"database_path"`
	APIToken        string `toml:"api_token"` // enables /api/messages when set
	ShutdownTimeout int    `toml:"shutdown_timeout"`
	RetentionDays   int    `toml:"retention_days"` // 0 keeps messages forever
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Twilio: TwilioConfig{
			Timeout: 10,
		},
		SMS: SMSConfig{
			Provider:  "twilio",
			AWSRegion: "us-east-1",
		},
		Webhook: WebhookConfig{
			Host:            "0.0.0.0",
			Port:            8095,
			DatabasePath:    "ayb-twilio.db",
			ShutdownTimeout: 10,
			RetentionDays:   30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration with priority: defaults → ayb-twilio.toml → env vars → CLI flags.
// The flags parameter allows CLI flag overrides to be passed in.
func Load(configPath string, flags map[string]string) (*Config, error) {
	cfg := Default()

	// Load from TOML file if it exists.
	if configPath == "" {
		configPath = DefaultPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	// Apply environment variables.
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// Apply CLI flag overrides.
	applyFlags(cfg, flags)

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values. Credentials are not
// required here; commands that call the provider use RequireCredentials.
func (c *Config) Validate() error {
	if c.Twilio.Timeout < 1 {
		return fmt.Errorf("twilio.timeout must be at least 1 second, got %d", c.Twilio.Timeout)
	}
	for key, v := range map[string]string{
		"twilio.base_url":        c.Twilio.BaseURL,
		"twilio.verify_base_url": c.Twilio.VerifyBaseURL,
		"webhook.public_url":     c.Webhook.PublicURL,
	} {
		if v == "" {
			continue
		}
		u, err := url.Parse(v)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, v)
		}
	}
	if c.Phone.DefaultRegion != "" && !phone.IsKnownRegion(c.Phone.DefaultRegion) {
		return fmt.Errorf("phone.default_region %q is not a known region", c.Phone.DefaultRegion)
	}
	for _, cc := range c.Phone.AllowedCountries {
		if !phone.IsKnownRegion(cc) {
			return fmt.Errorf("phone.allowed_countries: %q is not a known region", cc)
		}
	}
	switch c.SMS.Provider {
	case "", "twilio", "log":
	case "sns":
		if c.SMS.AWSRegion == "" {
			return fmt.Errorf("sms.aws_region is required when sms provider is \"sns\"")
		}
	default:
		return fmt.Errorf("sms.provider must be \"twilio\", \"sns\", or \"log\", got %q", c.SMS.Provider)
	}
	if c.Webhook.Port < 1 || c.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port must be between 1 and 65535, got %d", c.Webhook.Port)
	}
	if c.Webhook.ShutdownTimeout < 0 {
		return fmt.Errorf("webhook.shutdown_timeout must be non-negative, got %d", c.Webhook.ShutdownTimeout)
	}
	if c.Webhook.RetentionDays < 0 {
		return fmt.Errorf("webhook.retention_days must be non-negative, got %d", c.Webhook.RetentionDays)
	}
	if c.Logging.Level != "" {
		switch c.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error; got %q", c.Logging.Level)
		}
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", c.Logging.Format)
	}
	return nil
}

// RequireCredentials reports a missing account SID or auth token.
func (c *Config) RequireCredentials() error {
	if strings.TrimSpace(c.Twilio.AccountSID) == "" {
		return fmt.Errorf("twilio.account_sid is required (set AYB_TWILIO_ACCOUNT_SID or run 'ayb-twilio config set twilio.account_sid <sid>')")
	}
	if strings.TrimSpace(c.Twilio.AuthToken) == "" {
		return fmt.Errorf("twilio.auth_token is required (set AYB_TWILIO_AUTH_TOKEN)")
	}
	return nil
}

// Timeout returns the per-call provider timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Twilio.Timeout) * time.Second
}

// Retention returns how long logged messages are kept; zero means forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Webhook.RetentionDays) * 24 * time.Hour
}

// Address returns the host:port string for the callback receiver to listen on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Webhook.Host, c.Webhook.Port)
}

// PublicBaseURL returns the base URL the provider uses for callbacks. If
// webhook.public_url is configured, it is used as-is (with trailing slashes
// stripped). Otherwise, a URL is constructed from host:port, replacing the
// bind-all address 0.0.0.0 with localhost.
func (c *Config) PublicBaseURL() string {
	if c.Webhook.PublicURL != "" {
		return strings.TrimRight(c.Webhook.PublicURL, "/")
	}
	host := c.Webhook.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Webhook.Port)
}

// StatusCallbackURL returns the URL to pass as StatusCallback on sends.
func (c *Config) StatusCallbackURL() string {
	return c.PublicBaseURL() + "/twilio/status"
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Phone.AllowedCountries = append([]string(nil), c.Phone.AllowedCountries...)
	if out.Twilio.AuthToken != "" {
		out.Twilio.AuthToken = "[REDACTED]"
	}
	if out.Webhook.APIToken != "" {
		out.Webhook.APIToken = "[REDACTED]"
	}
	return &out
}

// GenerateDefault writes a commented default ayb-twilio.toml to the given path.
func GenerateDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultTOML), 0o600)
}

// ToTOML returns the config serialized as TOML.
func (c *Config) ToTOML() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// envInt reads an integer from the named environment variable.
// Returns an error if the value is set but not a valid integer.
func envInt(name string, dest *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %q is not an integer", name, v)
	}
	*dest = n
	return nil
}

// envString copies the first non-empty variable among names into dest.
func envString(dest *string, names ...string) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			*dest = v
			return
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func applyEnv(cfg *Config) error {
	// The provider's own variable names are honoured as a fallback.
	envString(&cfg.Twilio.AccountSID, "AYB_TWILIO_ACCOUNT_SID", "TWILIO_ACCOUNT_SID")
	envString(&cfg.Twilio.AuthToken, "AYB_TWILIO_AUTH_TOKEN", "TWILIO_AUTH_TOKEN")
	envString(&cfg.Twilio.BaseURL, "AYB_TWILIO_BASE_URL")
	envString(&cfg.Twilio.VerifyBaseURL, "AYB_TWILIO_VERIFY_BASE_URL")
	envString(&cfg.Twilio.VerifyServiceSID, "AYB_TWILIO_VERIFY_SERVICE_SID")
	envString(&cfg.Twilio.From, "AYB_TWILIO_FROM")
	if err := envInt("AYB_TWILIO_TIMEOUT", &cfg.Twilio.Timeout); err != nil {
		return err
	}
	envString(&cfg.Phone.DefaultRegion, "AYB_TWILIO_DEFAULT_REGION")
	if v := os.Getenv("AYB_TWILIO_ALLOWED_COUNTRIES"); v != "" {
		cfg.Phone.AllowedCountries = splitList(v)
	}
	envString(&cfg.SMS.Provider, "AYB_TWILIO_SMS_PROVIDER")
	envString(&cfg.SMS.AWSRegion, "AYB_TWILIO_AWS_REGION")
	envString(&cfg.Webhook.Host, "AYB_TWILIO_WEBHOOK_HOST")
	if err := envInt("AYB_TWILIO_WEBHOOK_PORT", &cfg.Webhook.Port); err != nil {
		return err
	}
	envString(&cfg.Webhook.PublicURL, "AYB_TWILIO_WEBHOOK_PUBLIC_URL")
	envString(&cfg.Webhook.DatabasePath, "AYB_TWILIO_DATABASE_PATH")
	envString(&cfg.Webhook.APIToken, "AYB_TWILIO_API_TOKEN")
	if err := envInt("AYB_TWILIO_RETENTION_DAYS", &cfg.Webhook.RetentionDays); err != nil {
		return err
	}
	envString(&cfg.Logging.Level, "AYB_TWILIO_LOG_LEVEL")
	envString(&cfg.Logging.Format, "AYB_TWILIO_LOG_FORMAT")
	return nil
}

func applyFlags(cfg *Config, flags map[string]string) {
	if flags == nil {
		return
	}
	if v, ok := flags["from"]; ok && v != "" {
		cfg.Twilio.From = v
	}
	if v, ok := flags["default-region"]; ok && v != "" {
		cfg.Phone.DefaultRegion = strings.ToUpper(v)
	}
	if v, ok := flags["sms-provider"]; ok && v != "" {
		cfg.SMS.Provider = v
	}
	if v, ok := flags["host"]; ok && v != "" {
		cfg.Webhook.Host = v
	}
	if v, ok := flags["port"]; ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Webhook.Port = port
		}
	}
	if v, ok := flags["public-url"]; ok && v != "" {
		cfg.Webhook.PublicURL = v
	}
	if v, ok := flags["database"]; ok && v != "" {
		cfg.Webhook.DatabasePath = v
	}
}

// configKeys lists every dot-separated config key.
var configKeys = []string{
	"twilio.account_sid", "twilio.auth_token", "twilio.base_url",
	"twilio.verify_base_url", "twilio.verify_service_sid",
	"twilio.from", "twilio.timeout",
	"phone.default_region", "phone.allowed_countries",
	"sms.provider", "sms.aws_region",
	"webhook.host", "webhook.port", "webhook.public_url",
	"webhook.database_path", "webhook.api_token", "webhook.shutdown_timeout",
	"webhook.retention_days",
	"logging.level", "logging.format",
}

// IsValidKey returns true if the dotted key is a recognized config key.
func IsValidKey(key string) bool {
	return slices.Contains(configKeys, key)
}

// GetValue returns the value for a dotted config key (e.g. "webhook.port").
func GetValue(cfg *Config, key string) (any, error) {
	switch key {
	case "twilio.account_sid":
		return cfg.Twilio.AccountSID, nil
	case "twilio.auth_token":
		return cfg.Twilio.AuthToken, nil
	case "twilio.base_url":
		return cfg.Twilio.BaseURL, nil
	case "twilio.verify_base_url":
		return cfg.Twilio.VerifyBaseURL, nil
	case "twilio.verify_service_sid":
		return cfg.Twilio.VerifyServiceSID, nil
	case "twilio.from":
		return cfg.Twilio.From, nil
	case "twilio.timeout":
		return cfg.Twilio.Timeout, nil
	case "phone.default_region":
		return cfg.Phone.DefaultRegion, nil
	case "phone.allowed_countries":
		return strings.Join(cfg.Phone.AllowedCountries, ","), nil
	case "sms.provider":
		return cfg.SMS.Provider, nil
	case "sms.aws_region":
		return cfg.SMS.AWSRegion, nil
	case "webhook.host":
		return cfg.Webhook.Host, nil
	case "webhook.port":
		return cfg.Webhook.Port, nil
	case "webhook.public_url":
		return cfg.Webhook.PublicURL, nil
	case "webhook.database_path":
		return cfg.Webhook.DatabasePath, nil
	case "webhook.api_token":
		return cfg.Webhook.APIToken, nil
	case "webhook.shutdown_timeout":
		return cfg.Webhook.ShutdownTimeout, nil
	case "webhook.retention_days":
		return cfg.Webhook.RetentionDays, nil
	case "logging.level":
		return cfg.Logging.Level, nil
	case "logging.format":
		return cfg.Logging.Format, nil
	default:
		return nil, fmt.Errorf("unknown configuration key: %s", key)
	}
}

// SetValue reads the existing TOML file, updates a single key, and writes it back.
// Creates the file with just the key if it doesn't exist.
func SetValue(configPath, key, value string) error {
	// Read existing TOML as a generic map.
	var data map[string]any
	if raw, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}
	if data == nil {
		data = make(map[string]any)
	}

	// Split key into section.field.
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid key format: %s (expected section.field)", key)
	}
	section, field := parts[0], parts[1]

	// Get or create section map.
	sectionMap, ok := data[section].(map[string]any)
	if !ok {
		sectionMap = make(map[string]any)
		data[section] = sectionMap
	}

	// Convert value to appropriate type.
	sectionMap[field] = coerceValue(key, value)

	// Marshal back to TOML and write.
	out, err := toml.Marshal(data)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	// The file may hold the auth token.
	return os.WriteFile(configPath, out, 0o600)
}

// coerceValue converts a string value to the appropriate Go type for TOML serialization.
func coerceValue(key, value string) any {
	switch key {
	case "twilio.timeout", "webhook.port", "webhook.shutdown_timeout", "webhook.retention_days":
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	case "phone.allowed_countries":
		list := splitList(value)
		if list == nil {
			list = []string{}
		}
		return list
	case "phone.default_region":
		return strings.ToUpper(value)
	}
	return value
}

const defaultTOML = `# ayb-twilio configuration
# Values can be overridden with AYB_TWILIO_* environment variables.

[twilio]
# Account credentials. Prefer the environment for the token:
#   AYB_TWILIO_ACCOUNT_SID / AYB_TWILIO_AUTH_TOKEN
# account_sid = "ACxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
# auth_token = ""

# Default sender for 'ayb-twilio send' and the messages API.
# from = "+15017122661"

# Verify service used by 'ayb-twilio verify'.
# verify_service_sid = "VAxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"

# Seconds before a single provider call is abandoned. Calls are never retried.
timeout = 10

# Override the API hosts (mock servers, regional edges).
# base_url = "https://api.twilio.com"
# verify_base_url = "https://verify.twilio.com"

[phone]
# Region applied to numbers written without a leading '+'.
# default_region = "US"

# Restrict destinations to these regions. Empty allows all.
# allowed_countries = ["US", "CA"]

[sms]
# Delivery provider: "twilio" (default), "sns" (AWS), or "log" (print only).
provider = "twilio"

# AWS region for provider = "sns".
aws_region = "us-east-1"

[webhook]
# Address for 'ayb-twilio serve'.
host = "0.0.0.0"
port = 8095

# Public URL the provider calls. Signatures cover this URL, so it must match
# what is configured in the console exactly.
# public_url = "https://hooks.example.com"

# SQLite message log.
database_path = "ayb-twilio.db"

# Bearer token that enables the /api/messages endpoints.
# api_token = ""

# Seconds to wait for in-flight requests during shutdown.
shutdown_timeout = 10

# Days to keep logged messages. 0 keeps them forever.
retention_days = 30

[logging]
# Log level: debug, info, warn, error.
level = "info"

# Log format: json or text.
format = "json"
`
