// Package testutil holds small generic assertions shared by unit tests.
// HTTP-facing tests use testify directly.
package testutil

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// describe renders an optional caller message, falling back to def.
func describe(def string, msgAndArgs []any) string {
	if len(msgAndArgs) == 0 {
		return def
	}
	format := fmt.Sprint(msgAndArgs[0])
	if len(msgAndArgs) == 1 {
		return def + ": " + format
	}
	return def + ": " + fmt.Sprintf(format, msgAndArgs[1:]...)
}

func Equal[T comparable](t testing.TB, want, got T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func NotEqual[T comparable](t testing.TB, want, got T) {
	t.Helper()
	if got == want {
		t.Errorf("got %v, should not equal %v", got, want)
	}
}

// NoError stops the test on a non-nil error.
func NoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ErrorContains stops the test when err is nil; otherwise it checks the
// message for substr.
func ErrorContains(t testing.TB, err error, substr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", substr)
	}
	if !strings.Contains(err.Error(), substr) {
		t.Errorf("error %q does not contain %q", err.Error(), substr)
	}
}

func True(t testing.TB, condition bool, msgAndArgs ...any) {
	t.Helper()
	if !condition {
		t.Error(describe("expected true", msgAndArgs))
	}
}

func False(t testing.TB, condition bool, msgAndArgs ...any) {
	t.Helper()
	if condition {
		t.Error(describe("expected false", msgAndArgs))
	}
}

// isNil also catches typed nils wrapped in an interface.
func isNil(val any) bool {
	if val == nil {
		return true
	}
	switch v := reflect.ValueOf(val); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

func Nil(t testing.TB, val any) {
	t.Helper()
	if !isNil(val) {
		t.Errorf("expected nil, got %v", val)
	}
}

// NotNil stops the test on nil, since the caller is about to dereference.
func NotNil(t testing.TB, val any) {
	t.Helper()
	if isNil(val) {
		t.Fatalf("expected non-nil %T", val)
	}
}

func SliceLen[T any](t testing.TB, slice []T, wantLen int) {
	t.Helper()
	if len(slice) != wantLen {
		t.Errorf("slice length: got %d, want %d (%v)", len(slice), wantLen, slice)
	}
}

func MapLen[K comparable, V any](t testing.TB, m map[K]V, wantLen int) {
	t.Helper()
	if len(m) != wantLen {
		t.Errorf("map length: got %d, want %d (%v)", len(m), wantLen, m)
	}
}

// StatusCode stops the test on a mismatch: the body of an unexpected status
// has a different shape, so later assertions would only add noise.
func StatusCode(t testing.TB, want, got int) {
	t.Helper()
	if got != want {
		t.Fatalf("HTTP status: got %d, want %d", got, want)
	}
}

func Contains(t testing.TB, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("%q does not contain %q", s, substr)
	}
}

// Eventually polls cond every few milliseconds until it holds or timeout
// passes, then fails the test.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(describe(fmt.Sprintf("condition not met within %s", timeout), msgAndArgs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
