package sms

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// LogProvider logs SMS sends instead of delivering them. Useful for development.
type LogProvider struct {
	logger *slog.Logger
	sent   atomic.Int64
}

// NewLogProvider creates a LogProvider. If logger is nil, slog.Default() is used.
func NewLogProvider(logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Send(_ context.Context, to, body string) (*SendResult, error) {
	id := "LG" + uuid.NewString()
	n := p.sent.Add(1)
	p.logger.Info("sms.LogProvider", "message_id", id, "to", to, "body", body, "count", n)
	return &SendResult{MessageID: id, Status: "logged", To: to}, nil
}
