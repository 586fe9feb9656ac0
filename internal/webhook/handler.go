// Package webhook receives provider callbacks. Every callback must carry a
// valid X-Twilio-Signature; unsigned or mis-signed requests get 403 and are
// never processed.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/allyourbase/ayb-twilio/internal/httputil"
	"github.com/allyourbase/ayb-twilio/internal/msglog"
	"github.com/allyourbase/ayb-twilio/internal/phone"
	"github.com/allyourbase/ayb-twilio/internal/signature"
	"github.com/allyourbase/ayb-twilio/internal/sms"
	"github.com/allyourbase/ayb-twilio/internal/twilio"
)

// MessageStore is the subset of msglog.Store the handler needs.
type MessageStore interface {
	RecordSent(ctx context.Context, rec sms.Record) error
	UpdateStatus(ctx context.Context, u msglog.StatusUpdate) error
	Get(ctx context.Context, sid string) (*msglog.Message, error)
	List(ctx context.Context, f msglog.Filter) ([]msglog.Message, error)
	Events(ctx context.Context, sid string) ([]msglog.Event, error)
	Stats(ctx context.Context, since time.Time) (*msglog.Stats, error)
}

// Config holds the receiver's settings.
type Config struct {
	// PublicURL is the scheme and host the provider calls, e.g.
	// "https://hooks.example.com". When empty it is derived from the request
	// and its X-Forwarded-* headers.
	PublicURL string
	// AccountSID, when set, rejects callbacks for any other account.
	AccountSID string
	// APIToken enables the /api/messages endpoints behind a bearer token.
	APIToken string
}

// Handler serves the callback and message history endpoints.
type Handler struct {
	cfg      Config
	store    MessageStore
	verifier *signature.Verifier
	sender   sms.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a webhook handler. sender may be nil, which disables
// POST /api/messages.
func NewHandler(cfg Config, store MessageStore, verifier *signature.Verifier, sender sms.Provider, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Handler{cfg: cfg, store: store, verifier: verifier, sender: sender, logger: logger, now: time.Now}
}

// Routes returns a chi.Router with the receiver endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.requireSignature)
		r.Post("/twilio/status", h.handleStatus)
		r.Post("/twilio/inbound", h.handleInbound)
	})
	if h.cfg.APIToken != "" {
		r.Route("/api/messages", func(r chi.Router) {
			r.Use(h.requireToken)
			r.Get("/", h.handleList)
			r.Get("/stats", h.handleStats)
			r.Get("/{sid}", h.handleGet)
			if h.sender != nil {
				r.Post("/", h.handleSend)
			}
		})
	}
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestURL reconstructs the URL the provider signed.
func (h *Handler) requestURL(r *http.Request) string {
	if h.cfg.PublicURL != "" {
		return h.cfg.PublicURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if fh := r.Header.Get("X-Forwarded-Host"); fh != "" {
		host = strings.TrimSpace(strings.Split(fh, ",")[0])
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (h *Handler) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fullURL := h.requestURL(r)
		if !h.verifier.VerifyRequest(r, fullURL) {
			h.logger.Warn("rejected callback with invalid signature",
				"path", r.URL.Path, "url", fullURL, "remote_addr", r.RemoteAddr)
			httputil.WriteError(w, http.StatusForbidden, "invalid signature")
			return
		}
		// Status and inbound callbacks are always form posts; a signed raw
		// body carries no AccountSid to check.
		if !(signature.Payload{ContentType: r.Header.Get("Content-Type")}).IsForm() {
			httputil.WriteError(w, http.StatusUnsupportedMediaType, "callbacks must be application/x-www-form-urlencoded")
			return
		}
		if err := r.ParseForm(); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		if h.cfg.AccountSID != "" && r.PostForm.Get("AccountSid") != h.cfg.AccountSID {
			h.logger.Warn("rejected callback for another account", "account_sid", r.PostForm.Get("AccountSid"))
			httputil.WriteError(w, http.StatusForbidden, "unknown account")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := httputil.BearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.APIToken)) != 1 {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// formValue returns the first non-empty value among keys; the provider sends
// both current and legacy names for some fields.
func formValue(r *http.Request, keys ...string) string {
	for _, k := range keys {
		if v := r.PostForm.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sid := formValue(r, "MessageSid", "SmsSid")
	status := formValue(r, "MessageStatus", "SmsStatus")
	if sid == "" || status == "" {
		httputil.WriteError(w, http.StatusBadRequest, "MessageSid and MessageStatus are required")
		return
	}
	var code int
	if s := r.PostForm.Get("ErrorCode"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid ErrorCode")
			return
		}
		code = n
	}

	err := h.store.UpdateStatus(r.Context(), msglog.StatusUpdate{
		SID:          sid,
		AccountSID:   r.PostForm.Get("AccountSid"),
		From:         r.PostForm.Get("From"),
		To:           r.PostForm.Get("To"),
		Status:       status,
		ErrorCode:    code,
		ErrorMessage: r.PostForm.Get("ErrorMessage"),
	})
	if err != nil {
		h.logger.Error("record status callback", "message_sid", sid, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Info("message status", "message_sid", sid, "status", status, "error_code", code)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	sid := formValue(r, "MessageSid", "SmsSid")
	if sid == "" {
		httputil.WriteError(w, http.StatusBadRequest, "MessageSid is required")
		return
	}
	err := h.store.RecordSent(r.Context(), sms.Record{
		MessageID: sid,
		Provider:  "inbound",
		From:      r.PostForm.Get("From"),
		To:        r.PostForm.Get("To"),
		Body:      r.PostForm.Get("Body"),
		Status:    string(twilio.StatusReceived),
	})
	if err != nil {
		h.logger.Error("record inbound message", "message_sid", sid, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Info("inbound message", "message_sid", sid, "from", r.PostForm.Get("From"))
	httputil.WriteEmptyTwiML(w)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := msglog.Filter{To: q.Get("to"), Status: q.Get("status")}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	msgs, err := h.store.List(r.Context(), f)
	if err != nil {
		h.logger.Error("list messages", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": msgs})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	msg, err := h.store.Get(r.Context(), sid)
	if err != nil {
		if errors.Is(err, msglog.ErrNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "message not found")
			return
		}
		h.logger.Error("get message", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	events, err := h.store.Events(r.Context(), sid)
	if err != nil {
		h.logger.Error("list message events", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"message": msg, "events": events})
}

// deliveryWindow is the stats for one time window.
type deliveryWindow struct {
	*msglog.Stats
	// FailureRate is the percentage of messages that ended failed or undelivered.
	FailureRate float64 `json:"failureRate"`
}

func newDeliveryWindow(st *msglog.Stats) deliveryWindow {
	w := deliveryWindow{Stats: st}
	if st.Total > 0 {
		failed := st.ByStatus[string(twilio.StatusFailed)] + st.ByStatus[string(twilio.StatusUndelivered)]
		w.FailureRate = float64(failed) * 100 / float64(st.Total)
	}
	return w
}

// handleStats returns delivery counts for today, the last 7 days, and the last 30 days.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	windows := []struct {
		key   string
		since time.Time
	}{
		{"today", today},
		{"last_7d", today.AddDate(0, 0, -6)},
		{"last_30d", today.AddDate(0, 0, -29)},
	}

	resp := make(map[string]any, len(windows)+1)
	for _, win := range windows {
		st, err := h.store.Stats(r.Context(), win.since)
		if err != nil {
			h.logger.Error("message stats query error", "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "failed to query message stats")
			return
		}
		resp[win.key] = newDeliveryWindow(st)
	}

	// Flag a high failure rate once there is meaningful volume.
	if d := resp["today"].(deliveryWindow); d.Total >= 10 && d.FailureRate > 25 {
		resp["warning"] = "high failure rate"
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	res, err := h.sender.Send(r.Context(), req.To, req.Body)
	if err != nil {
		h.writeSendError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"sid":    res.MessageID,
		"status": res.Status,
		"to":     res.To,
	})
}

func (h *Handler) writeSendError(w http.ResponseWriter, err error) {
	var ve *phone.ValidationError
	var pe *twilio.ProviderError
	var te *twilio.TransportError
	switch {
	case errors.As(err, &ve):
		httputil.WriteError(w, http.StatusBadRequest, "invalid phone number",
			httputil.WithField("to", "invalid_phone", ve.Error()))
	case errors.Is(err, twilio.ErrBodyEmpty), errors.Is(err, twilio.ErrBodyTooLong):
		httputil.WriteError(w, http.StatusBadRequest, "invalid message body",
			httputil.WithField("body", "invalid_body", err.Error()))
	case errors.As(err, &pe):
		h.logger.Warn("provider rejected message", "code", pe.Code, "status", pe.Status)
		httputil.WriteError(w, http.StatusBadGateway, pe.Message, httputil.WithDocURL(pe.MoreInfo))
	case errors.As(err, &te) && te.Timeout():
		httputil.WriteError(w, http.StatusGatewayTimeout, "provider timed out")
	default:
		h.logger.Error("send message", "error", err)
		httputil.WriteError(w, http.StatusBadGateway, "failed to send message")
	}
}
