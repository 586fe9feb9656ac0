package signature

import (
	"bytes"
	"io"
	"net/http"
)

// MaxBodySize bounds how much of a callback body VerifyRequest reads.
const MaxBodySize = 1 << 20

// KeySource lends the signing key for the duration of fn.
type KeySource interface {
	WithSigningKey(fn func(key []byte) bool) bool
}

// StaticKey is a KeySource over a fixed key, mainly for tests and tooling.
type StaticKey []byte

func (k StaticKey) WithSigningKey(fn func(key []byte) bool) bool { return fn(k) }

// Verifier checks callbacks against the key held by a KeySource.
type Verifier struct {
	keys KeySource
}

// NewVerifier returns a Verifier that borrows its key from keys per call.
func NewVerifier(keys KeySource) *Verifier {
	return &Verifier{keys: keys}
}

// Verify reports whether sig authenticates payload delivered to rawURL.
func (v *Verifier) Verify(p Payload, rawURL, sig string) bool {
	return v.keys.WithSigningKey(func(key []byte) bool {
		return Verify(p, rawURL, sig, key)
	})
}

// VerifyRequest checks r against fullURL, the public URL the provider
// called (scheme, host, path and query as configured on the provider side).
// The body is restored so handlers can read it afterwards.
func (v *Verifier) VerifyRequest(r *http.Request, fullURL string) bool {
	sig := r.Header.Get(Header)
	if sig == "" {
		return false
	}
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(b))
		if err != nil || len(b) > MaxBodySize {
			return false
		}
		body = b
	}
	return v.Verify(Payload{ContentType: r.Header.Get("Content-Type"), Body: body}, fullURL, sig)
}
