package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	var v struct {
		To string `json:"to"`
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"to":"+14155552671"}`))
	require.True(t, DecodeJSON(w, r, &v))
	assert.Equal(t, "+14155552671", v.To)
}

func TestDecodeJSONRejectsBadBody(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"to":`},
		{"oversized", `{"body":"` + strings.Repeat("x", MaxBodySize) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var v map[string]any
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			assert.False(t, DecodeJSON(w, r, &v))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid JSON body")
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer tok", "tok", true},
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := BearerToken(r)
		assert.Equal(t, tt.want, got, tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
	}
}

func TestWriteErrorVariants(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadGateway, "The 'To' number is not valid", WithDocURL("https://www.twilio.com/docs/errors/21211"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Equal(t, "https://www.twilio.com/docs/errors/21211", resp.DocURL)

	w = httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest, "invalid phone number", WithField("to", "invalid_phone", "malformed"))
	resp = ErrorResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	field, ok := resp.Data["to"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "invalid_phone", field["code"])
}

func TestWriteEmptyTwiML(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()
	WriteEmptyTwiML(w)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/xml; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, emptyTwiML, w.Body.String())
}
