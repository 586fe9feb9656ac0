package twilio

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/allyourbase/ayb-twilio/internal/testutil"
)

func TestAuthorizationHeader(t *testing.T) {
	t.Parallel()
	creds, err := NewCredentials("ACxxx", "secret")
	testutil.NoError(t, err)
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("ACxxx:secret"))
	testutil.Equal(t, want, creds.AuthorizationHeader())
	// Computed fresh each time, same result.
	testutil.Equal(t, want, creds.AuthorizationHeader())
}

func TestNewCredentialsRejectsEmpty(t *testing.T) {
	t.Parallel()
	cases := []struct {
		sid, token, field string
	}{
		{"", "tok", "account_sid"},
		{"   ", "tok", "account_sid"},
		{"AC1", "", "auth_token"},
		{"AC1", "  ", "auth_token"},
	}
	for _, c := range cases {
		_, err := NewCredentials(c.sid, c.token)
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("NewCredentials(%q, %q): got %v, want *ConfigError", c.sid, c.token, err)
		}
		testutil.Equal(t, c.field, ce.Field)
	}
}

func TestCredentialsNeverRenderToken(t *testing.T) {
	t.Parallel()
	const token = "s3cr3t-t0ken-value"
	creds, err := NewCredentials("ACxxx", token)
	testutil.NoError(t, err)

	renderings := []string{
		fmt.Sprint(creds),
		fmt.Sprint(*creds),
		fmt.Sprintf("%v", creds),
		fmt.Sprintf("%+v", creds),
		fmt.Sprintf("%#v", creds),
		fmt.Sprintf("%s", creds),
		fmt.Sprintf("%+v", *creds),
		fmt.Sprintf("%#v", *creds),
		creds.String(),
		creds.GoString(),
		fmt.Sprintf("%v", *creds.authToken),
		fmt.Sprintf("%#v", creds.authToken),
	}
	for _, r := range renderings {
		testutil.False(t, bytes.Contains([]byte(r), []byte(token)), "token leaked in %q", r)
	}
	testutil.Contains(t, creds.String(), "ACxxx")
	testutil.Contains(t, creds.String(), "[REDACTED]")

	js, err := json.Marshal(creds)
	testutil.NoError(t, err)
	testutil.False(t, bytes.Contains(js, []byte(token)), "token leaked in JSON %s", js)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("client ready", "creds", creds, "token", creds.authToken)
	testutil.False(t, bytes.Contains(buf.Bytes(), []byte(token)), "token leaked in log %s", buf.String())
	testutil.Contains(t, buf.String(), "ACxxx")
}

func TestWithSigningKeyLendsToken(t *testing.T) {
	t.Parallel()
	creds, err := NewCredentials("AC1", "AuthToken1")
	testutil.NoError(t, err)
	ok := creds.WithSigningKey(func(key []byte) bool {
		return string(key) == "AuthToken1"
	})
	testutil.True(t, ok, "signing key should be the auth token")
}

func TestSecretDestroyZeroes(t *testing.T) {
	t.Parallel()
	s := NewSecret("abc")
	b := s.Expose()
	s.Destroy()
	testutil.Equal(t, 3, len(b))
	for _, c := range b {
		testutil.Equal(t, byte(0), c)
	}
}

func TestSecretCopiesInput(t *testing.T) {
	t.Parallel()
	src := "tok"
	s := NewSecret(src)
	s.Destroy()
	testutil.Equal(t, "tok", src)
}

func TestCredentialsDestroy(t *testing.T) {
	t.Parallel()
	creds, err := NewCredentials("AC1", "tok")
	testutil.NoError(t, err)
	creds.Destroy()
	creds.WithSigningKey(func(key []byte) bool {
		testutil.True(t, bytes.Equal(key, []byte{0, 0, 0}), "key should be zeroed, got %v", key)
		return true
	})
}
