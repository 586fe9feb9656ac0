// Package signature authenticates inbound provider callbacks.
//
// The provider signs each callback with HMAC-SHA1 keyed by the account's
// auth token and sends the base64 digest in the X-Twilio-Signature header.
// For form-encoded callbacks the signed string is the full callback URL
// followed by every POST parameter as key+value, keys in ascending order.
// For other bodies the raw body is appended to the URL, unless the URL
// carries a bodySHA256 query parameter, in which case the signature covers
// the URL alone and the parameter must match the body's SHA-256.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"mime"
	"net"
	"net/url"
	"sort"
	"strings"
)

// Header is the request header carrying the signature.
const Header = "X-Twilio-Signature"

const formContentType = "application/x-www-form-urlencoded"

// Payload is an inbound callback body together with its content type.
type Payload struct {
	ContentType string
	Body        []byte
}

// IsForm reports whether the payload should be verified in form mode.
func (p Payload) IsForm() bool {
	mt, _, err := mime.ParseMediaType(p.ContentType)
	return err == nil && mt == formContentType
}

// Compute returns the base64 signature for a form-encoded callback.
func Compute(key []byte, rawURL string, params url.Values) string {
	mac := hmac.New(sha1.New, key)
	mac.Write([]byte(rawURL))
	writeSortedParams(mac, params)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ComputeRaw returns the base64 signature over rawURL followed by body.
func ComputeRaw(key []byte, rawURL string, body []byte) string {
	mac := hmac.New(sha1.New, key)
	mac.Write([]byte(rawURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func writeSortedParams(w io.Writer, params url.Values) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			w.Write([]byte(k))
			w.Write([]byte(v))
		}
	}
}

// ValidForm reports whether sig authenticates a form-encoded callback.
func ValidForm(key []byte, rawURL string, params url.Values, sig string) bool {
	if sig == "" {
		return false
	}
	ok := false
	for _, u := range urlVariants(rawURL) {
		if equal(Compute(key, u, params), sig) {
			ok = true
		}
	}
	return ok
}

// ValidRaw reports whether sig authenticates a non-form callback body.
func ValidRaw(key []byte, rawURL string, body []byte, sig string) bool {
	if sig == "" {
		return false
	}
	if want, ok := bodyHash(rawURL); ok {
		sum := sha256.Sum256(body)
		if !equal(hex.EncodeToString(sum[:]), strings.ToLower(want)) {
			return false
		}
		return ValidForm(key, rawURL, nil, sig)
	}
	ok := false
	for _, u := range urlVariants(rawURL) {
		if equal(ComputeRaw(key, u, body), sig) {
			ok = true
		}
	}
	return ok
}

// Verify authenticates payload, choosing form or raw mode from its content
// type. Any structural problem yields false.
func Verify(p Payload, rawURL, sig string, key []byte) bool {
	if p.IsForm() {
		params, err := url.ParseQuery(string(p.Body))
		if err != nil {
			return false
		}
		return ValidForm(key, rawURL, params, sig)
	}
	return ValidRaw(key, rawURL, p.Body, sig)
}

func equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

func bodyHash(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	h := u.Query().Get("bodySHA256")
	return h, h != ""
}

// urlVariants returns rawURL plus the same URL with the scheme's default
// port added or removed.
func urlVariants(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return []string{rawURL}
	}
	var port string
	switch u.Scheme {
	case "https":
		port = "443"
	case "http":
		port = "80"
	default:
		return []string{rawURL}
	}

	alt := *u
	if u.Port() == "" {
		alt.Host = net.JoinHostPort(u.Hostname(), port)
	} else if u.Port() == port {
		alt.Host = u.Hostname()
		if strings.Contains(alt.Host, ":") {
			alt.Host = "[" + alt.Host + "]"
		}
	} else {
		return []string{rawURL}
	}
	return []string{rawURL, alt.String()}
}
