package twilio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBaseURL is the Programmable Messaging API host.
	DefaultBaseURL = "https://api.twilio.com"
	// DefaultVerifyBaseURL is the Verify API host.
	DefaultVerifyBaseURL = "https://verify.twilio.com"
	// DefaultTimeout bounds a single call when the caller supplies no client.
	DefaultTimeout = 10 * time.Second

	maxResponseSize = 1 << 20
)

// UserAgent is sent with every request.
var UserAgent = "ayb-twilio/dev"

// Doer issues HTTP requests. *http.Client satisfies it; tests substitute
// their own transport doubles.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures the HTTP side of a client.
type Options struct {
	// BaseURL overrides the provider host, e.g. an httptest server URL.
	BaseURL string
	// HTTPClient replaces the default client. Timeout is ignored when set.
	HTTPClient Doer
	Timeout    time.Duration
	// DefaultRegion is the ISO 3166-1 region applied to numbers without a
	// country code.
	DefaultRegion string
	// AllowedRegions restricts destinations; empty allows every region.
	AllowedRegions []string
	Logger         *slog.Logger
}

// Param is a single form field.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of form fields. Unlike url.Values it encodes in
// insertion order.
type Params []Param

// Add appends a field and returns the extended list.
func (p Params) Add(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// AddIf appends a field only when value is non-empty.
func (p Params) AddIf(key, value string) Params {
	if value == "" {
		return p
	}
	return p.Add(key, value)
}

// Encode returns the form-urlencoded representation in insertion order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// RawResponse is an undecoded provider response.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Requester builds and issues authenticated form requests against one
// provider host. Each Send is exactly one HTTP attempt.
type Requester struct {
	baseURL string
	creds   *Credentials
	client  Doer
	logger  *slog.Logger
}

// NewRequester validates baseURL and returns a Requester. An empty baseURL
// selects defaultBase.
func NewRequester(creds *Credentials, baseURL, defaultBase string, opts Options) (*Requester, error) {
	if creds == nil {
		return nil, &ConfigError{Field: "credentials"}
	}
	if baseURL == "" {
		baseURL = defaultBase
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &ConfigError{Field: "base_url", Reason: fmt.Sprintf("must be an absolute http(s) URL, got %q", baseURL)}
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Requester{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  client,
		logger:  logger,
	}, nil
}

// AccountSID returns the SID of the credentials the Requester signs with.
func (r *Requester) AccountSID() string { return r.creds.AccountSID() }

// Send issues method path with params as the form body.
func (r *Requester) Send(ctx context.Context, method, path string, params Params) (*RawResponse, error) {
	endpoint := r.baseURL + path
	reqID := uuid.NewString()

	var body io.Reader
	if len(params) > 0 {
		body = strings.NewReader(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("twilio: build request: %w", err)
	}
	req.Header.Set("Authorization", r.creds.AuthorizationHeader())
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("twilio request failed",
			"request_id", reqID, "method", method, "path", path,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: fmt.Errorf("read response: %w", err)}
	}

	r.logger.Debug("twilio request",
		"request_id", reqID, "method", method, "path", path,
		"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds(),
		"twilio_request_id", resp.Header.Get("Twilio-Request-Id"))

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}
