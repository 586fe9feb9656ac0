package sms

import (
	"context"
	"strings"

	"github.com/allyourbase/ayb-twilio/internal/twilio"
)

// TwilioProvider sends SMS through twilio.SMSClient from a fixed sender.
type TwilioProvider struct {
	client         *twilio.SMSClient
	fromNumber     string
	statusCallback string
}

// NewTwilioProvider creates a TwilioProvider sending from fromNumber.
// The number is normalized on every send, so region-local formats work
// when the client has a default region.
func NewTwilioProvider(client *twilio.SMSClient, fromNumber string) *TwilioProvider {
	return &TwilioProvider{client: client, fromNumber: strings.TrimSpace(fromNumber)}
}

// WithStatusCallback sets the URL the provider posts delivery updates to.
func (p *TwilioProvider) WithStatusCallback(url string) *TwilioProvider {
	p.statusCallback = strings.TrimSpace(url)
	return p
}

func (p *TwilioProvider) Send(ctx context.Context, to, body string) (*SendResult, error) {
	out, err := p.client.NewMessage(p.fromNumber, to, body)
	if err != nil {
		return nil, err
	}
	out.StatusCallback = p.statusCallback
	msg, err := p.client.Send(ctx, out)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		MessageID: msg.SID,
		Status:    string(msg.Status),
		To:        msg.To,
	}, nil
}
