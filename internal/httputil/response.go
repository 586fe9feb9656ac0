// Package httputil holds the JSON and TwiML response helpers shared by the
// callback receiver's handlers.
package httputil

import (
	"encoding/json"
	"net/http"
	"strings"
)

// MaxBodySize caps JSON request bodies at 1 MiB.
const MaxBodySize = 1 << 20

// ErrorResponse is the error envelope of every JSON endpoint.
type ErrorResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	DocURL  string         `json:"doc_url,omitempty"`
}

// ErrorOption adds detail to an ErrorResponse.
type ErrorOption func(*ErrorResponse)

// WithDocURL links documentation for the error, e.g. a provider more_info URL.
func WithDocURL(url string) ErrorOption {
	return func(e *ErrorResponse) { e.DocURL = url }
}

// WithField attaches a field-level validation detail under data.<field>.
func WithField(field, code, message string) ErrorOption {
	return func(e *ErrorResponse) {
		if e.Data == nil {
			e.Data = map[string]any{}
		}
		e.Data[field] = map[string]string{"code": code, "message": message}
	}
}

// DecodeJSON decodes a size-limited JSON body into v. On failure it writes
// a 400 and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the standard error envelope.
func WriteError(w http.ResponseWriter, status int, message string, opts ...ErrorOption) {
	resp := ErrorResponse{Code: status, Message: message}
	for _, opt := range opts {
		opt(&resp)
	}
	WriteJSON(w, status, resp)
}

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// WriteEmptyTwiML acknowledges a callback without asking the provider to
// do anything further.
func WriteEmptyTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}
