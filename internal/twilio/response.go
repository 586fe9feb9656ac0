package twilio

import (
	"bytes"
	"encoding/json"
	"errors"
)

const maxErrorBody = 512

var errNullBody = errors.New("null response body")

// completer is implemented by response types that can tell a real
// resource from a zero value.
type completer interface {
	complete() error
}

type errorEnvelope struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// Interpret maps a raw response to T on success, or to one of
// *ProviderError, *UnexpectedStatusError, *MalformedResponseError.
func Interpret[T any](raw *RawResponse) (*T, error) {
	if raw.StatusCode >= 200 && raw.StatusCode < 300 {
		if bytes.Equal(bytes.TrimSpace(raw.Body), []byte("null")) {
			return nil, &MalformedResponseError{Status: raw.StatusCode, Err: errNullBody}
		}
		var out T
		if err := json.Unmarshal(raw.Body, &out); err != nil {
			return nil, &MalformedResponseError{Status: raw.StatusCode, Err: err}
		}
		if c, ok := any(&out).(completer); ok {
			if err := c.complete(); err != nil {
				return nil, &MalformedResponseError{Status: raw.StatusCode, Err: err}
			}
		}
		return &out, nil
	}

	var env errorEnvelope
	if json.Unmarshal(raw.Body, &env) == nil && (env.Code != 0 || env.Message != "") {
		return nil, &ProviderError{
			Status:   raw.StatusCode,
			Code:     env.Code,
			Message:  env.Message,
			MoreInfo: env.MoreInfo,
		}
	}
	return nil, &UnexpectedStatusError{Status: raw.StatusCode, Body: truncate(raw.Body, maxErrorBody)}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
