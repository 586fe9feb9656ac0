package sms

import (
	"context"
	"fmt"
	"sync"
)

// CaptureProvider keeps every message in memory instead of delivering it.
// The callback receiver's tests send through it.
type CaptureProvider struct {
	mu    sync.Mutex
	Calls []CaptureCall
	// Err, when set, fails every Send without capturing.
	Err error
	// Status reported for captured messages; "captured" when empty.
	Status string
}

// CaptureCall is one captured message.
type CaptureCall struct {
	SID  string
	To   string
	Body string
}

func (c *CaptureProvider) Send(_ context.Context, to, body string) (*SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	call := CaptureCall{SID: fmt.Sprintf("CP%04d", len(c.Calls)+1), To: to, Body: body}
	c.Calls = append(c.Calls, call)
	status := c.Status
	if status == "" {
		status = "captured"
	}
	return &SendResult{MessageID: call.SID, Status: status, To: to}, nil
}

func (c *CaptureProvider) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Last returns the most recent capture, if any.
func (c *CaptureProvider) Last() (CaptureCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Calls) == 0 {
		return CaptureCall{}, false
	}
	return c.Calls[len(c.Calls)-1], true
}

func (c *CaptureProvider) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}
