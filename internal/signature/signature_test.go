package signature_test

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allyourbase/ayb-twilio/internal/signature"
)

const (
	testToken = "AuthToken1"
	testURL   = "https://example.com/hook"
)

// expected signs data the long way so the tests do not share code with the
// implementation.
func expected(token, data string) string {
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func formParams() url.Values {
	return url.Values{"To": {"+15551234567"}, "Digits": {"1234"}}
}

func TestComputeMatchesDocumentedConcatenation(t *testing.T) {
	t.Parallel()
	want := expected(testToken, testURL+"Digits1234To+15551234567")
	got := signature.Compute([]byte(testToken), testURL, formParams())
	assert.Equal(t, want, got)
}

func TestValidFormAcceptsCorrectSignature(t *testing.T) {
	t.Parallel()
	sig := expected(testToken, testURL+"Digits1234To+15551234567")
	assert.True(t, signature.ValidForm([]byte(testToken), testURL, formParams(), sig))
}

func TestValidFormRejectsEveryOneCharacterFlip(t *testing.T) {
	t.Parallel()
	sig := expected(testToken, testURL+"Digits1234To+15551234567")
	for i := range sig {
		flipped := []byte(sig)
		if flipped[i] == 'A' {
			flipped[i] = 'B'
		} else {
			flipped[i] = 'A'
		}
		assert.False(t, signature.ValidForm([]byte(testToken), testURL, formParams(), string(flipped)),
			"flipping index %d should invalidate the signature", i)
	}
}

func TestValidFormRejects(t *testing.T) {
	t.Parallel()
	sig := signature.Compute([]byte(testToken), testURL, formParams())

	cases := map[string]func() bool{
		"empty signature": func() bool {
			return signature.ValidForm([]byte(testToken), testURL, formParams(), "")
		},
		"wrong token": func() bool {
			return signature.ValidForm([]byte("AuthToken2"), testURL, formParams(), sig)
		},
		"different url": func() bool {
			return signature.ValidForm([]byte(testToken), testURL+"?x=1", formParams(), sig)
		},
		"tampered param": func() bool {
			p := formParams()
			p.Set("Digits", "9999")
			return signature.ValidForm([]byte(testToken), testURL, p, sig)
		},
		"extra param": func() bool {
			p := formParams()
			p.Set("From", "+15550000000")
			return signature.ValidForm([]byte(testToken), testURL, p, sig)
		},
		"not base64": func() bool {
			return signature.ValidForm([]byte(testToken), testURL, formParams(), "%%%")
		},
	}
	for name, fn := range cases {
		assert.False(t, fn(), name)
	}
}

func TestComputeMultiValuedKey(t *testing.T) {
	t.Parallel()
	params := url.Values{"MediaUrl": {"https://b.example/2", "https://a.example/1"}, "Body": {"hi"}}
	want := expected(testToken, testURL+"Bodyhi"+"MediaUrlhttps://a.example/1"+"MediaUrlhttps://b.example/2")
	assert.Equal(t, want, signature.Compute([]byte(testToken), testURL, params))
}

func TestValidFormDefaultPortVariants(t *testing.T) {
	t.Parallel()
	params := formParams()

	withPort := signature.Compute([]byte(testToken), "https://example.com:443/hook", params)
	assert.True(t, signature.ValidForm([]byte(testToken), testURL, params, withPort))

	withoutPort := signature.Compute([]byte(testToken), testURL, params)
	assert.True(t, signature.ValidForm([]byte(testToken), "https://example.com:443/hook", params, withoutPort))

	// A non-default port is never rewritten.
	odd := signature.Compute([]byte(testToken), "https://example.com:8443/hook", params)
	assert.False(t, signature.ValidForm([]byte(testToken), testURL, params, odd))
}

func TestValidRawAppendsBody(t *testing.T) {
	t.Parallel()
	body := []byte(`{"event":"delivered","sid":"SM123"}`)
	sig := expected(testToken, testURL+string(body))
	assert.True(t, signature.ValidRaw([]byte(testToken), testURL, body, sig))
	assert.False(t, signature.ValidRaw([]byte(testToken), testURL, []byte(`{"event":"failed"}`), sig))
}

func TestValidRawBodySHA256(t *testing.T) {
	t.Parallel()
	body := []byte(`{"event":"delivered"}`)
	sum := sha256.Sum256(body)
	hookURL := testURL + "?bodySHA256=" + hex.EncodeToString(sum[:])
	sig := expected(testToken, hookURL)

	assert.True(t, signature.ValidRaw([]byte(testToken), hookURL, body, sig))
	assert.False(t, signature.ValidRaw([]byte(testToken), hookURL, []byte(`{"event":"tampered"}`), sig),
		"body hash mismatch must fail even with a valid URL signature")
}

func TestVerifySelectsModeByContentType(t *testing.T) {
	t.Parallel()
	formBody := []byte("To=%2B15551234567&Digits=1234")
	formSig := expected(testToken, testURL+"Digits1234To+15551234567")

	assert.True(t, signature.Verify(signature.Payload{
		ContentType: "application/x-www-form-urlencoded; charset=utf-8",
		Body:        formBody,
	}, testURL, formSig, []byte(testToken)))

	// The same bytes as JSON are signed raw, so the form signature fails.
	assert.False(t, signature.Verify(signature.Payload{
		ContentType: "application/json",
		Body:        formBody,
	}, testURL, formSig, []byte(testToken)))

	rawSig := expected(testToken, testURL+string(formBody))
	assert.True(t, signature.Verify(signature.Payload{
		ContentType: "application/json",
		Body:        formBody,
	}, testURL, rawSig, []byte(testToken)))
}

func TestVerifyMalformedFormIsFalse(t *testing.T) {
	t.Parallel()
	assert.False(t, signature.Verify(signature.Payload{
		ContentType: "application/x-www-form-urlencoded",
		Body:        []byte("a=%zz"),
	}, testURL, "anything", []byte(testToken)))
}

func TestVerifierVerifyRequest(t *testing.T) {
	t.Parallel()
	body := "To=%2B15551234567&Digits=1234"
	r := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set(signature.Header, expected(testToken, testURL+"Digits1234To+15551234567"))

	v := signature.NewVerifier(signature.StaticKey(testToken))
	require.True(t, v.VerifyRequest(r, testURL))

	// Body is still readable by the handler.
	require.NoError(t, r.ParseForm())
	assert.Equal(t, "1234", r.PostForm.Get("Digits"))
}

func TestVerifierVerifyRequestMissingHeader(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("Digits=1234"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	v := signature.NewVerifier(signature.StaticKey(testToken))
	assert.False(t, v.VerifyRequest(r, testURL))
}
