package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"github.com/allyourbase/ayb-twilio/internal/phone"
)

// Channel is the delivery channel for a verification code.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelCall     Channel = "call"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// ParseChannel accepts a channel name case-insensitively.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelSMS, ChannelCall, ChannelEmail, ChannelWhatsApp:
		return c, nil
	}
	return "", fmt.Errorf("twilio: %w: %q", ErrUnsupportedChannel, s)
}

// VerificationStatus is the state of a verification as reported by the provider.
type VerificationStatus string

const (
	VerificationPending            VerificationStatus = "pending"
	VerificationApproved           VerificationStatus = "approved"
	VerificationDenied             VerificationStatus = "denied"
	VerificationCanceled           VerificationStatus = "canceled"
	VerificationExpired            VerificationStatus = "expired"
	VerificationMaxAttemptsReached VerificationStatus = "max_attempts_reached"
	VerificationDeleted            VerificationStatus = "deleted"
	VerificationFailed             VerificationStatus = "failed"
)

// SendCodeAttempt is one delivery of a verification code.
type SendCodeAttempt struct {
	AttemptSID string  `json:"attempt_sid"`
	Channel    Channel `json:"channel"`
	Time       string  `json:"time"`
}

// Verification is returned when a verification is started.
type Verification struct {
	SID              string             `json:"sid"`
	ServiceSID       string             `json:"service_sid"`
	AccountSID       string             `json:"account_sid"`
	To               string             `json:"to"`
	Channel          Channel            `json:"channel"`
	Status           VerificationStatus `json:"status"`
	Valid            bool               `json:"valid"`
	Lookup           map[string]any     `json:"lookup,omitempty"`
	Amount           *string            `json:"amount,omitempty"`
	Payee            *string            `json:"payee,omitempty"`
	SendCodeAttempts []SendCodeAttempt  `json:"send_code_attempts,omitempty"`
	DateCreated      string             `json:"date_created,omitempty"`
	DateUpdated      string             `json:"date_updated,omitempty"`
	URL              string             `json:"url,omitempty"`
}

// VerificationCheck is the outcome of checking a code.
type VerificationCheck struct {
	SID         string             `json:"sid"`
	ServiceSID  string             `json:"service_sid"`
	AccountSID  string             `json:"account_sid"`
	To          string             `json:"to"`
	Channel     Channel            `json:"channel"`
	Status      VerificationStatus `json:"status"`
	Valid       bool               `json:"valid"`
	Amount      *string            `json:"amount,omitempty"`
	Payee       *string            `json:"payee,omitempty"`
	DateCreated string             `json:"date_created,omitempty"`
	DateUpdated string             `json:"date_updated,omitempty"`
}

// Approved reports whether the code was accepted.
func (c *VerificationCheck) Approved() bool {
	return c.Status == VerificationApproved
}

func (v *Verification) complete() error {
	if v.SID == "" {
		return errors.New("verification has no sid")
	}
	return nil
}

func (c *VerificationCheck) complete() error {
	if c.Status == "" {
		return errors.New("verification check has no status")
	}
	return nil
}

var codePattern = regexp.MustCompile(`^[0-9A-Za-z]{4,10}$`)

// VerifyClient starts and checks verifications for one Verify service.
// It keeps no per-verification state.
type VerifyClient struct {
	req        *Requester
	serviceSID string
	phone      phone.Normalizer
}

// NewVerifyClient creates a VerifyClient for serviceSID. If opts.BaseURL is
// empty the production Verify API is used.
func NewVerifyClient(creds *Credentials, serviceSID string, opts Options) (*VerifyClient, error) {
	serviceSID = strings.TrimSpace(serviceSID)
	if serviceSID == "" {
		return nil, &ConfigError{Field: "verify_service_sid"}
	}
	req, err := NewRequester(creds, opts.BaseURL, DefaultVerifyBaseURL, opts)
	if err != nil {
		return nil, err
	}
	if opts.DefaultRegion != "" && !phone.IsKnownRegion(opts.DefaultRegion) {
		return nil, &ConfigError{Field: "default_region", Reason: fmt.Sprintf("%q is not a known region", opts.DefaultRegion)}
	}
	return &VerifyClient{
		req:        req,
		serviceSID: serviceSID,
		phone:      phone.Normalizer{DefaultRegion: opts.DefaultRegion, AllowedRegions: opts.AllowedRegions},
	}, nil
}

// StartVerification sends a code to to over channel.
func (c *VerifyClient) StartVerification(ctx context.Context, to string, channel Channel) (*Verification, error) {
	if _, err := ParseChannel(string(channel)); err != nil {
		return nil, err
	}
	target, err := c.target(to, channel)
	if err != nil {
		return nil, err
	}
	params := Params{}.Add("To", target).Add("Channel", string(channel))
	raw, err := c.req.Send(ctx, http.MethodPost, c.path("Verifications"), params)
	if err != nil {
		return nil, err
	}
	return Interpret[Verification](raw)
}

// CheckVerification submits the code the end user entered. A wrong code is
// reported through the returned status; nothing is retried.
func (c *VerifyClient) CheckVerification(ctx context.Context, to, code string) (*VerificationCheck, error) {
	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("twilio: Code: %w", ErrInvalidCode)
	}
	target, err := c.checkTarget(to)
	if err != nil {
		return nil, err
	}
	params := Params{}.Add("To", target).Add("Code", code)
	raw, err := c.req.Send(ctx, http.MethodPost, c.path("VerificationCheck"), params)
	if err != nil {
		return nil, err
	}
	return Interpret[VerificationCheck](raw)
}

// CheckVerificationBySID checks a code against a verification SID instead of a recipient.
func (c *VerifyClient) CheckVerificationBySID(ctx context.Context, verificationSID, code string) (*VerificationCheck, error) {
	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("twilio: Code: %w", ErrInvalidCode)
	}
	if verificationSID == "" {
		return nil, fmt.Errorf("twilio: VerificationSid: empty")
	}
	params := Params{}.Add("VerificationSid", verificationSID).Add("Code", code)
	raw, err := c.req.Send(ctx, http.MethodPost, c.path("VerificationCheck"), params)
	if err != nil {
		return nil, err
	}
	return Interpret[VerificationCheck](raw)
}

// CancelVerification marks a pending verification as canceled.
func (c *VerifyClient) CancelVerification(ctx context.Context, verificationSID string) (*Verification, error) {
	if verificationSID == "" {
		return nil, fmt.Errorf("twilio: VerificationSid: empty")
	}
	params := Params{}.Add("Status", string(VerificationCanceled))
	raw, err := c.req.Send(ctx, http.MethodPost, c.path("Verifications/"+url.PathEscape(verificationSID)), params)
	if err != nil {
		return nil, err
	}
	return Interpret[Verification](raw)
}

func (c *VerifyClient) path(resource string) string {
	return "/v2/Services/" + url.PathEscape(c.serviceSID) + "/" + resource
}

func (c *VerifyClient) target(to string, channel Channel) (string, error) {
	if channel == ChannelEmail {
		addr, err := mail.ParseAddress(to)
		if err != nil {
			return "", fmt.Errorf("twilio: To: %w: %q", ErrInvalidEmail, to)
		}
		return addr.Address, nil
	}
	num, err := c.phone.Normalize(to)
	if err != nil {
		return "", phone.WithField(err, "To")
	}
	return num.E164(), nil
}

// checkTarget accepts either an email address or a phone number, since the
// check call does not name the channel.
func (c *VerifyClient) checkTarget(to string) (string, error) {
	if strings.Contains(to, "@") {
		return c.target(to, ChannelEmail)
	}
	return c.target(to, ChannelSMS)
}
