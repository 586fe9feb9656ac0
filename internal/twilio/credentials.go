package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
)

const redacted = "[REDACTED]"

// Secret holds sensitive bytes. Every formatting path (fmt verbs, slog, JSON)
// renders a fixed placeholder; the raw bytes are only reachable via Expose.
type Secret struct {
	b []byte
}

// NewSecret copies s into memory owned by the Secret. The caller's string
// cannot be scrubbed; the copy is zeroed by Destroy or once the Secret is
// garbage collected.
func NewSecret(s string) *Secret {
	sec := &Secret{b: []byte(s)}
	runtime.AddCleanup(sec, func(b []byte) { clear(b) }, sec.b)
	return sec
}

// Expose returns the secret bytes. Callers must not retain or modify them.
func (s Secret) Expose() []byte { return s.b }

// Destroy zeroes the backing memory.
func (s Secret) Destroy() { clear(s.b) }

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

func (s Secret) Format(f fmt.State, _ rune) { io.WriteString(f, redacted) }

func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// Credentials is the account identity used for every outbound call. It is
// immutable after construction and safe for concurrent use.
type Credentials struct {
	accountSID string
	authToken  *Secret
}

// NewCredentials validates and stores the account SID and auth token.
func NewCredentials(accountSID, authToken string) (*Credentials, error) {
	accountSID = strings.TrimSpace(accountSID)
	if accountSID == "" {
		return nil, &ConfigError{Field: "account_sid"}
	}
	if strings.TrimSpace(authToken) == "" {
		return nil, &ConfigError{Field: "auth_token"}
	}
	return &Credentials{
		accountSID: accountSID,
		authToken:  NewSecret(authToken),
	}, nil
}

// AccountSID returns the account identifier. It is not secret.
func (c *Credentials) AccountSID() string { return c.accountSID }

// AuthorizationHeader returns the HTTP Basic credentials header value.
// It is rebuilt on every call and the plaintext scratch buffer is cleared.
func (c *Credentials) AuthorizationHeader() string {
	tok := c.authToken.Expose()
	buf := make([]byte, 0, len(c.accountSID)+1+len(tok))
	buf = append(buf, c.accountSID...)
	buf = append(buf, ':')
	buf = append(buf, tok...)
	defer clear(buf)
	return "Basic " + base64.StdEncoding.EncodeToString(buf)
}

// WithSigningKey lends the auth token to fn for the duration of the call.
func (c *Credentials) WithSigningKey(fn func(key []byte) bool) bool {
	return fn(c.authToken.Expose())
}

// Destroy zeroes the auth token. The Credentials are unusable afterwards.
func (c *Credentials) Destroy() { c.authToken.Destroy() }

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{AccountSID: %s, AuthToken: %s}", c.accountSID, redacted)
}

func (c Credentials) GoString() string { return c.String() }

func (c Credentials) Format(f fmt.State, _ rune) { io.WriteString(f, c.String()) }

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("account_sid", c.accountSID),
		slog.String("auth_token", redacted),
	)
}

func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"account_sid": c.accountSID,
		"auth_token":  redacted,
	})
}
