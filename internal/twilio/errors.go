package twilio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Provider error codes callers commonly branch on.
// Full list: https://www.twilio.com/docs/api/errors
const (
	CodeAuthenticationFailed  = 20003
	CodeResourceNotFound      = 20404
	CodeTooManyRequests       = 20429
	CodeInvalidToNumber       = 21211
	CodeInvalidFromNumber     = 21212
	CodeUnverifiedToNumber    = 21608
	CodeUnsubscribedRecipient = 21610
	CodeInvalidParameter      = 60200
	CodeMaxCheckAttempts      = 60202
	CodeMaxSendAttempts       = 60203
)

var (
	// ErrBodyEmpty is returned when a message has neither a body nor media.
	ErrBodyEmpty = errors.New("message body is empty")
	// ErrBodyTooLong is returned when a body exceeds MaxBodyLength characters.
	ErrBodyTooLong = errors.New("message body too long")
	// ErrUnsupportedChannel is returned for verification channels the client does not know.
	ErrUnsupportedChannel = errors.New("unsupported verification channel")
	// ErrInvalidCode is returned when a verification code has the wrong shape.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrInvalidEmail is returned when an email verification target cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
)

// ConfigError reports invalid or missing client configuration. It is
// returned at construction time and is never worth retrying.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is required"
	}
	return fmt.Sprintf("twilio: config: %s %s", e.Field, reason)
}

// TransportError wraps a failure of the HTTP transport. The underlying
// error is kept intact and reachable through Unwrap.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("twilio: send request: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the call failed because a deadline expired.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// ProviderError is the provider's own error envelope, passed through verbatim.
type ProviderError struct {
	Status   int
	Code     int
	Message  string
	MoreInfo string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("twilio: error %d: %s", e.Code, e.Message)
}

// Unauthorized reports whether the provider rejected the credentials.
func (e *ProviderError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Code == CodeAuthenticationFailed
}

// MalformedResponseError is returned when a success response cannot be decoded.
type MalformedResponseError struct {
	Status int
	Err    error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("twilio: parse response (status %d): %v", e.Status, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// UnexpectedStatusError is returned for error statuses whose body is not a
// provider error envelope, e.g. an HTML page from a proxy.
type UnexpectedStatusError struct {
	Status int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("twilio: error %d: %s", e.Status, e.Body)
}

// IsProviderCode reports whether err carries the given provider error code.
func IsProviderCode(err error, code int) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}
