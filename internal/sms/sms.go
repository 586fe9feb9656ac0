// Package sms adapts outbound message delivery to a small Provider interface
// so the CLI and the callback receiver can swap the Twilio client for AWS SNS
// or a local sink.
package sms

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// SendResult holds the outcome of a provider Send call.
type SendResult struct {
	MessageID string
	Status    string
	// To is the normalized destination the provider actually used.
	To string
}

// Provider sends an SMS to a phone number.
type Provider interface {
	Send(ctx context.Context, to, body string) (*SendResult, error)
}

// Names of the providers New understands.
const (
	ProviderTwilio = "twilio"
	ProviderSNS    = "sns"
	ProviderLog    = "log"
)

// Record is one sent message as handed to a Recorder.
type Record struct {
	MessageID string
	Provider  string
	From      string
	To        string
	Body      string
	Status    string
	SentAt    time.Time
}

// Recorder persists sent messages. msglog.Store satisfies it.
type Recorder interface {
	RecordSent(ctx context.Context, rec Record) error
}

// RecordingProvider forwards to an inner Provider and records every
// successful send. Recording failures are logged, never returned: the
// message has already left.
type RecordingProvider struct {
	inner    Provider
	recorder Recorder
	name     string
	from     string
	logger   *slog.Logger
	now      func() time.Time
}

// NewRecordingProvider wraps inner. name and from are stored with each record.
// If logger is nil, slog.Default() is used.
func NewRecordingProvider(inner Provider, recorder Recorder, name, from string, logger *slog.Logger) *RecordingProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingProvider{inner: inner, recorder: recorder, name: name, from: from, logger: logger, now: time.Now}
}

func (p *RecordingProvider) Send(ctx context.Context, to, body string) (*SendResult, error) {
	res, err := p.inner.Send(ctx, to, body)
	if err != nil {
		return nil, err
	}
	dest := res.To
	if dest == "" {
		dest = strings.TrimSpace(to)
	}
	rec := Record{
		MessageID: res.MessageID,
		Provider:  p.name,
		From:      p.from,
		To:        dest,
		Body:      body,
		Status:    res.Status,
		SentAt:    p.now().UTC(),
	}
	if err := p.recorder.RecordSent(ctx, rec); err != nil {
		p.logger.Error("failed to record sent message", "message_id", res.MessageID, "error", err)
	}
	return res, nil
}
