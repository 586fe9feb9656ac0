package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"unicode/utf8"

	"github.com/allyourbase/ayb-twilio/internal/phone"
)

// MaxBodyLength is the provider's limit for a (concatenated) message body, in characters.
const MaxBodyLength = 1600

// MessageStatus is the delivery state reported for a message.
type MessageStatus string

const (
	StatusQueued             MessageStatus = "queued"
	StatusSending            MessageStatus = "sending"
	StatusSent               MessageStatus = "sent"
	StatusFailed             MessageStatus = "failed"
	StatusDelivered          MessageStatus = "delivered"
	StatusUndelivered        MessageStatus = "undelivered"
	StatusReceiving          MessageStatus = "receiving"
	StatusReceived           MessageStatus = "received"
	StatusAccepted           MessageStatus = "accepted"
	StatusScheduled          MessageStatus = "scheduled"
	StatusRead               MessageStatus = "read"
	StatusPartiallyDelivered MessageStatus = "partially_delivered"
	StatusCanceled           MessageStatus = "canceled"
)

// Final reports whether no further status transitions are expected.
// received is the end state of an inbound message.
func (s MessageStatus) Final() bool {
	switch s {
	case StatusDelivered, StatusUndelivered, StatusFailed, StatusRead, StatusCanceled, StatusReceived:
		return true
	}
	return false
}

// Message is the provider's representation of a sent message.
type Message struct {
	SID          string        `json:"sid"`
	AccountSID   string        `json:"account_sid"`
	From         string        `json:"from"`
	To           string        `json:"to"`
	Body         string        `json:"body"`
	Status       MessageStatus `json:"status"`
	Direction    string        `json:"direction,omitempty"`
	NumSegments  string        `json:"num_segments,omitempty"`
	NumMedia     string        `json:"num_media,omitempty"`
	ErrorCode    *int          `json:"error_code,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	Price        *string       `json:"price,omitempty"`
	PriceUnit    string        `json:"price_unit,omitempty"`
	DateCreated  string        `json:"date_created,omitempty"`
	DateSent     string        `json:"date_sent,omitempty"`
	DateUpdated  string        `json:"date_updated,omitempty"`
	URI          string        `json:"uri,omitempty"`
}

func (m *Message) complete() error {
	if m.SID == "" {
		return errors.New("message has no sid")
	}
	return nil
}

// OutboundMessage is a fully validated send request.
type OutboundMessage struct {
	From phone.Number
	To   phone.Number
	Body string
	// MediaURLs turns the message into MMS; each URL is sent as MediaUrl.
	MediaURLs      []string
	SendAsMMS      bool
	StatusCallback string
}

// Validate checks the body and media without touching the network.
func (m OutboundMessage) Validate() error {
	if m.From.IsZero() {
		return &phone.ValidationError{Field: "From", Kind: phone.Malformed}
	}
	if m.To.IsZero() {
		return &phone.ValidationError{Field: "To", Kind: phone.Malformed}
	}
	if m.Body == "" && len(m.MediaURLs) == 0 {
		return fmt.Errorf("twilio: Body: %w", ErrBodyEmpty)
	}
	if n := utf8.RuneCountInString(m.Body); n > MaxBodyLength {
		return fmt.Errorf("twilio: Body: %w (%d > %d characters)", ErrBodyTooLong, n, MaxBodyLength)
	}
	for _, u := range m.MediaURLs {
		if parsed, err := url.Parse(u); err != nil || !parsed.IsAbs() {
			return fmt.Errorf("twilio: MediaUrl: invalid URL %q", u)
		}
	}
	return nil
}

func (m OutboundMessage) params() Params {
	p := Params{}.
		Add("From", m.From.E164()).
		Add("To", m.To.E164()).
		AddIf("Body", m.Body)
	for _, u := range m.MediaURLs {
		p = p.Add("MediaUrl", u)
	}
	if m.SendAsMMS {
		p = p.Add("SendAsMms", strconv.FormatBool(m.SendAsMMS))
	}
	return p.AddIf("StatusCallback", m.StatusCallback)
}

// SMSClient sends messages through the Programmable Messaging API.
type SMSClient struct {
	req   *Requester
	phone phone.Normalizer
}

// NewSMSClient creates an SMSClient. If opts.BaseURL is empty the production
// API is used.
func NewSMSClient(creds *Credentials, opts Options) (*SMSClient, error) {
	req, err := NewRequester(creds, opts.BaseURL, DefaultBaseURL, opts)
	if err != nil {
		return nil, err
	}
	if opts.DefaultRegion != "" && !phone.IsKnownRegion(opts.DefaultRegion) {
		return nil, &ConfigError{Field: "default_region", Reason: fmt.Sprintf("%q is not a known region", opts.DefaultRegion)}
	}
	return &SMSClient{
		req:   req,
		phone: phone.Normalizer{DefaultRegion: opts.DefaultRegion, AllowedRegions: opts.AllowedRegions},
	}, nil
}

// SendMessage normalizes from and to and sends body. Validation failures are
// returned before any request is made.
func (c *SMSClient) SendMessage(ctx context.Context, from, to, body string) (*Message, error) {
	msg, err := c.NewMessage(from, to, body)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, msg)
}

// NewMessage builds an OutboundMessage from raw numbers.
func (c *SMSClient) NewMessage(from, to, body string) (OutboundMessage, error) {
	fromNum, err := c.phone.Normalize(from)
	if err != nil {
		return OutboundMessage{}, phone.WithField(err, "From")
	}
	toNum, err := c.phone.Normalize(to)
	if err != nil {
		return OutboundMessage{}, phone.WithField(err, "To")
	}
	return OutboundMessage{From: fromNum, To: toNum, Body: body}, nil
}

// Send posts msg. The call is made once; a failed or cancelled call may
// still have been delivered by the provider.
func (c *SMSClient) Send(ctx context.Context, msg OutboundMessage) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", url.PathEscape(c.req.AccountSID()))
	raw, err := c.req.Send(ctx, http.MethodPost, path, msg.params())
	if err != nil {
		return nil, err
	}
	return Interpret[Message](raw)
}

// FetchMessage retrieves the current state of a previously sent message.
func (c *SMSClient) FetchMessage(ctx context.Context, sid string) (*Message, error) {
	if sid == "" {
		return nil, errors.New("twilio: fetch message: empty sid")
	}
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages/%s.json",
		url.PathEscape(c.req.AccountSID()), url.PathEscape(sid))
	raw, err := c.req.Send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return Interpret[Message](raw)
}
