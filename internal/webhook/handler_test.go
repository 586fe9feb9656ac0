package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/allyourbase/ayb-twilio/internal/msglog"
	"github.com/allyourbase/ayb-twilio/internal/phone"
	"github.com/allyourbase/ayb-twilio/internal/signature"
	"github.com/allyourbase/ayb-twilio/internal/sms"
	"github.com/allyourbase/ayb-twilio/internal/testutil"
	"github.com/allyourbase/ayb-twilio/internal/twilio"
)

const (
	testToken     = "AuthToken1"
	testPublicURL = "https://hooks.example.com"
	testAPIToken  = "api-secret"
)

type testEnv struct {
	handler http.Handler
	store   *msglog.Store
	sender  *sms.CaptureProvider
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store, err := msglog.Open(t.Context(), ":memory:")
	testutil.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	sender := &sms.CaptureProvider{}
	h := NewHandler(cfg, store, signature.NewVerifier(signature.StaticKey(testToken)), sender, testutil.DiscardLogger())
	return &testEnv{handler: h.Routes(), store: store, sender: sender}
}

func signedForm(t *testing.T, rawURL string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(signature.Header, signature.Compute([]byte(testToken), rawURL, form))
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatusCallbackUpdatesLog(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{PublicURL: testPublicURL + "/"})
	testutil.NoError(t, env.store.RecordSent(t.Context(), sms.Record{MessageID: "SM1", To: "+14155552671", Status: "queued"}))

	form := url.Values{
		"MessageSid":    {"SM1"},
		"MessageStatus": {"undelivered"},
		"ErrorCode":     {"30003"},
		"AccountSid":    {"ACtest"},
	}
	w := serve(env.handler, signedForm(t, testPublicURL+"/twilio/status", form))
	testutil.StatusCode(t, http.StatusNoContent, w.Code)

	m, err := env.store.Get(t.Context(), "SM1")
	testutil.NoError(t, err)
	testutil.Equal(t, "undelivered", m.Status)
	testutil.Equal(t, 30003, m.ErrorCode)
}

func TestStatusCallbackLegacyFieldNames(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{PublicURL: testPublicURL})
	form := url.Values{"SmsSid": {"SM2"}, "SmsStatus": {"sent"}}
	w := serve(env.handler, signedForm(t, testPublicURL+"/twilio/status", form))
	testutil.StatusCode(t, http.StatusNoContent, w.Code)

	m, err := env.store.Get(t.Context(), "SM2")
	testutil.NoError(t, err)
	testutil.Equal(t, "sent", m.Status)
}

func TestCallbackRejectsBadSignature(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{PublicURL: testPublicURL})
	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}

	cases := map[string]func(*http.Request){
		"missing header": func(r *http.Request) { r.Header.Del(signature.Header) },
		"wrong signature": func(r *http.Request) {
			r.Header.Set(signature.Header, signature.Compute([]byte("other-token"), testPublicURL+"/twilio/status", form))
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := signedForm(t, testPublicURL+"/twilio/status", form)
			mutate(req)
			w := serve(env.handler, req)
			testutil.StatusCode(t, http.StatusForbidden, w.Code)
		})
	}

	// Tampered body: signature computed over different parameters.
	req := httptest.NewRequest(http.MethodPost, testPublicURL+"/twilio/status",
		strings.NewReader(url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"failed"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(signature.Header, signature.Compute([]byte(testToken), testPublicURL+"/twilio/status", form))
	w := serve(env.handler, req)
	testutil.StatusCode(t, http.StatusForbidden, w.Code)

	_, err := env.store.Get(t.Context(), "SM1")
	testutil.True(t, errors.Is(err, msglog.ErrNotFound), "rejected callbacks must not be recorded")
}

func TestCallbackURLFromForwardedHeaders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	form := url.Values{"MessageSid": {"SM3"}, "MessageStatus": {"delivered"}}

	signedURL := "https://public.example.org/twilio/status?tenant=a"
	req := httptest.NewRequest(http.MethodPost, "http://10.0.0.5:8080/twilio/status?tenant=a", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "public.example.org")
	req.Header.Set(signature.Header, signature.Compute([]byte(testToken), signedURL, form))

	w := serve(env.handler, req)
	testutil.StatusCode(t, http.StatusNoContent, w.Code)
}

func TestCallbackRejectsOtherAccount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{PublicURL: testPublicURL, AccountSID: "ACmine"})
	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"sent"}, "AccountSid": {"ACother"}}
	w := serve(env.handler, signedForm(t, testPublicURL+"/twilio/status", form))
	testutil.StatusCode(t, http.StatusForbidden, w.Code)
}

func TestCallbackRejectsSignedJSON(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{PublicURL: testPublicURL, AccountSID: "ACmine"})
	rawURL := testPublicURL + "/twilio/status"
	body := []byte(`{"AccountSid":"ACmine","MessageSid":"SM7","MessageStatus":"delivered"}`)

	req := httptest.NewRequest(http.MethodPost, rawURL, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, signature.ComputeRaw([]byte(testToken), rawURL, body))
	w := serve(env.handler, req)
	testutil.StatusCode(t, http.StatusUnsupportedMediaType, w.Code)

	_, err := env.store.Get(t.Context(), "SM7")
	testutil.True(t, errors.Is(err, msglog.ErrNotFound), "JSON callbacks must not be recorded")

	// Unsigned JSON is still a signature failure first.
	req = httptest.NewRequest(http.MethodPost, rawURL, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = serve(env.handler, req)
	testutil.StatusCode(t, http.StatusForbidden, w.Code)
}

func TestStatusCallbackValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{PublicURL: testPublicURL})

	w := serve(env.handler, signedForm(t, testPublicURL+"/twilio/status", url.Values{"MessageStatus": {"sent"}}))
	testutil.StatusCode(t, http.StatusBadRequest, w.Code)

	w = serve(env.handler, signedForm(t, testPublicURL+"/twilio/status",
		url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"failed"}, "ErrorCode": {"abc"}}))
	testutil.StatusCode(t, http.StatusBadRequest, w.Code)
}

func TestInboundMessageRecorded(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{PublicURL: testPublicURL})
	form := url.Values{
		"MessageSid": {"SMin"},
		"From":       {"+14155552671"},
		"To":         {"+16502530000"},
		"Body":       {"STOP"},
	}
	w := serve(env.handler, signedForm(t, testPublicURL+"/twilio/inbound", form))
	testutil.StatusCode(t, http.StatusOK, w.Code)
	testutil.Contains(t, w.Header().Get("Content-Type"), "text/xml")
	testutil.Contains(t, w.Body.String(), "<Response></Response>")

	m, err := env.store.Get(t.Context(), "SMin")
	testutil.NoError(t, err)
	testutil.Equal(t, "inbound", m.Provider)
	testutil.Equal(t, "STOP", m.Body)
	testutil.Equal(t, string(twilio.StatusReceived), m.Status)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	w := serve(env.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.StatusCode(t, http.StatusOK, w.Code)
}

func TestAPIDisabledWithoutToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{})
	w := serve(env.handler, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	testutil.StatusCode(t, http.StatusNotFound, w.Code)
}

func apiRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	return req
}

func TestAPIRequiresBearerToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{APIToken: testAPIToken})

	w := serve(env.handler, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	testutil.StatusCode(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = serve(env.handler, req)
	testutil.StatusCode(t, http.StatusUnauthorized, w.Code)
}

func TestAPISendListAndGet(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Config{APIToken: testAPIToken, PublicURL: testPublicURL})

	w := serve(env.handler, apiRequest(http.MethodPost, "/api/messages", `{"to":"+14155552671","body":"hi"}`))
	testutil.StatusCode(t, http.StatusCreated, w.Code)
	var sent map[string]string
	testutil.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	testutil.Equal(t, "CP0001", sent["sid"])
	testutil.Equal(t, 1, env.sender.Len())

	// The capture sender does not record; seed the log the way RecordingProvider would.
	testutil.NoError(t, env.store.RecordSent(t.Context(), sms.Record{MessageID: "CP0001", To: "+14155552671", Status: "captured"}))
	serve(env.handler, signedForm(t, testPublicURL+"/twilio/status",
		url.Values{"MessageSid": {"CP0001"}, "MessageStatus": {"delivered"}}))

	w = serve(env.handler, apiRequest(http.MethodGet, "/api/messages?status=delivered", ""))
	testutil.StatusCode(t, http.StatusOK, w.Code)
	var list struct {
		Items []msglog.Message `json:"items"`
	}
	testutil.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	testutil.SliceLen(t, list.Items, 1)

	w = serve(env.handler, apiRequest(http.MethodGet, "/api/messages/CP0001", ""))
	testutil.StatusCode(t, http.StatusOK, w.Code)
	var detail struct {
		Message msglog.Message `json:"message"`
		Events  []msglog.Event `json:"events"`
	}
	testutil.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	testutil.Equal(t, "delivered", detail.Message.Status)
	testutil.SliceLen(t, detail.Events, 1)

	w = serve(env.handler, apiRequest(http.MethodGet, "/api/messages/SM404", ""))
	testutil.StatusCode(t, http.StatusNotFound, w.Code)

	w = serve(env.handler, apiRequest(http.MethodGet, "/api/messages?limit=0", ""))
	testutil.StatusCode(t, http.StatusBadRequest, w.Code)
}

func TestAPISendErrors(t *testing.T) {
	t.Parallel()
	store, err := msglog.Open(t.Context(), ":memory:")
	testutil.NoError(t, err)
	defer store.Close()

	cases := []struct {
		name   string
		err    error
		status int
		field  string
	}{
		{"body too long", twilio.ErrBodyTooLong, http.StatusBadRequest, "body"},
		{"provider", &twilio.ProviderError{Status: 400, Code: 21211, Message: "Invalid 'To' Phone Number", MoreInfo: "https://www.twilio.com/docs/errors/21211"}, http.StatusBadGateway, ""},
		{"transport", &twilio.TransportError{Method: "POST", Path: "/x", Err: errors.New("connection reset")}, http.StatusBadGateway, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sender := &sms.CaptureProvider{Err: c.err}
			h := NewHandler(Config{APIToken: testAPIToken}, store, signature.NewVerifier(signature.StaticKey(testToken)), sender, testutil.DiscardLogger())
			w := serve(h.Routes(), apiRequest(http.MethodPost, "/api/messages", `{"to":"+14155552671","body":"hi"}`))
			testutil.StatusCode(t, c.status, w.Code)
			if c.field != "" {
				testutil.Contains(t, w.Body.String(), `"`+c.field+`"`)
			}
		})
	}

	h := NewHandler(Config{APIToken: testAPIToken}, store, signature.NewVerifier(signature.StaticKey(testToken)),
		sms.NewSNSProvider(nil, phone.Normalizer{}), testutil.DiscardLogger())
	w := serve(h.Routes(), apiRequest(http.MethodPost, "/api/messages", `{"to":"12ab","body":"hi"}`))
	testutil.StatusCode(t, http.StatusBadRequest, w.Code)
	testutil.Contains(t, w.Body.String(), "invalid_phone")

	w = serve(h.Routes(), apiRequest(http.MethodPost, "/api/messages", `not json`))
	testutil.StatusCode(t, http.StatusBadRequest, w.Code)
}

func TestAPIStats(t *testing.T) {
	t.Parallel()
	store, err := msglog.Open(t.Context(), ":memory:")
	testutil.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	h := NewHandler(Config{APIToken: testAPIToken}, store, signature.NewVerifier(signature.StaticKey(testToken)), nil, testutil.DiscardLogger())
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	routes := h.Routes()

	ctx := t.Context()
	for i := range 10 {
		sid := fmt.Sprintf("SM%d", i)
		testutil.NoError(t, store.RecordSent(ctx, sms.Record{MessageID: sid, Status: "queued", SentAt: now.Add(-time.Hour)}))
		status := "delivered"
		if i < 3 {
			status = "undelivered"
		}
		testutil.NoError(t, store.UpdateStatus(ctx, msglog.StatusUpdate{SID: sid, Status: status}))
	}
	testutil.NoError(t, store.RecordSent(ctx, sms.Record{MessageID: "OLD", Status: "delivered", SentAt: now.AddDate(0, 0, -3)}))

	w := serve(routes, apiRequest(http.MethodGet, "/api/messages/stats", ""))
	testutil.StatusCode(t, http.StatusOK, w.Code)
	var resp struct {
		Today struct {
			Total       int            `json:"total"`
			ByStatus    map[string]int `json:"byStatus"`
			FailureRate float64        `json:"failureRate"`
		} `json:"today"`
		Last7d struct {
			Total int `json:"total"`
		} `json:"last_7d"`
		Warning string `json:"warning"`
	}
	testutil.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	testutil.Equal(t, 10, resp.Today.Total)
	testutil.Equal(t, 3, resp.Today.ByStatus["undelivered"])
	testutil.Equal(t, 30.0, resp.Today.FailureRate)
	testutil.Equal(t, 11, resp.Last7d.Total)
	testutil.Equal(t, "high failure rate", resp.Warning)

	// POST is not routed when no sender is configured.
	w = serve(routes, apiRequest(http.MethodPost, "/api/messages", `{"to":"+14155552671","body":"hi"}`))
	testutil.StatusCode(t, http.StatusMethodNotAllowed, w.Code)
}
