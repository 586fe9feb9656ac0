package phone

import (
	"errors"
	"testing"

	"github.com/allyourbase/ayb-twilio/internal/testutil"
)

// --- Normalize ---

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input, want string
	}{
		{"+1 415 555 2671", "+14155552671"},
		{"+1-415-555-2671", "+14155552671"},
		{"+44 20 7946 0958", "+442079460958"},
		{"+14155552671", "+14155552671"},
		{"+(1) 415-555-2671", "+14155552671"},
		{"+44.20.7946.0958", "+442079460958"},
		{"+61412345678", "+61412345678"},
		{"+49 30 1234 5678", "+493012345678"},
		{"  +14155552671  ", "+14155552671"},
	}
	for _, c := range cases {
		got, err := Normalize(c.input, "")
		testutil.NoError(t, err)
		testutil.Equal(t, c.want, got.E164())
	}
}

func TestNormalize_RegionHint(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input, region, want, wantRegion string
	}{
		{"(415) 555-2671", "US", "+14155552671", "US"},
		{"415 555 2671", "us", "+14155552671", "US"},
		{"020 7946 0958", "GB", "+442079460958", "GB"},
		// A '+' prefix wins over the hint.
		{"+442079460958", "US", "+442079460958", "GB"},
		// So does an international dialling prefix for the hint's region.
		{"011 44 20 7946 0958", "US", "+442079460958", "GB"},
		{"00 44 20 7946 0958", "DE", "+442079460958", "GB"},
	}
	for _, c := range cases {
		got, err := Normalize(c.input, c.region)
		testutil.NoError(t, err)
		testutil.Equal(t, c.want, got.E164())
		testutil.Equal(t, c.wantRegion, got.Region())
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()
	inputs := []struct{ raw, region string }{
		{"+1 (415) 555-2671", ""},
		{"020 7946 0958", "GB"},
		{"+919876543210", ""},
		{"+5511987654321", ""},
		{"+27821234567", ""},
	}
	for _, in := range inputs {
		first, err := Normalize(in.raw, in.region)
		testutil.NoError(t, err)
		second, err := Normalize(first.E164(), "")
		testutil.NoError(t, err)
		testutil.Equal(t, first, second)
	}
}

func TestNormalize_Malformed(t *testing.T) {
	t.Parallel()
	invalid := []string{
		"",
		"   ",
		"not-a-number",
		"+abc",
		"+1+4155552671",
		"++14155552671",
		"1+4155552671",
		"+١٢٣٤٥٦٧٨٩٠",
		"2547ji@89898",
		"+",
		"()",
	}
	for _, in := range invalid {
		_, err := Normalize(in, "")
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Normalize(%q): got %v, want *ValidationError", in, err)
		}
		testutil.Equal(t, Malformed, ve.Kind)
		testutil.True(t, errors.Is(err, ErrInvalidPhoneNumber), "Normalize(%q) should match ErrInvalidPhoneNumber", in)
	}
}

func TestNormalize_NoPlusWithoutRegionIsMalformed(t *testing.T) {
	t.Parallel()
	_, err := Normalize("4155552671", "")
	var ve *ValidationError
	testutil.True(t, errors.As(err, &ve), "expected *ValidationError")
	testutil.Equal(t, Malformed, ve.Kind)
}

func TestNormalize_InvalidForRegion(t *testing.T) {
	t.Parallel()
	invalid := []string{
		"+19995551234",  // unassigned US area code
		"+449999999999", // no UK area code 999
		"+61012345678",  // AU mobile cannot start with 0
	}
	for _, in := range invalid {
		_, err := Normalize(in, "")
		testutil.True(t, errors.Is(err, ErrInvalidPhoneNumber), "Normalize(%q) should be rejected", in)
	}

	_, err := Normalize("+19995551234", "")
	var ve *ValidationError
	testutil.True(t, errors.As(err, &ve), "expected *ValidationError")
	testutil.Equal(t, InvalidForRegion, ve.Kind)
}

func TestNormalize_UnknownRegionHint(t *testing.T) {
	t.Parallel()
	_, err := Normalize("4155552671", "XX")
	var ve *ValidationError
	testutil.True(t, errors.As(err, &ve), "expected *ValidationError")
	testutil.Equal(t, InvalidForRegion, ve.Kind)
	testutil.Equal(t, "XX", ve.Region)
}

func TestNumberAccessors(t *testing.T) {
	t.Parallel()
	n, err := Normalize("+442079460958", "")
	testutil.NoError(t, err)
	testutil.Equal(t, "GB", n.Region())
	testutil.Equal(t, 44, n.CountryCode())
	testutil.Equal(t, "+442079460958", n.String())
	testutil.False(t, n.IsZero(), "normalized number should not be zero")
	testutil.True(t, Number{}.IsZero(), "zero value should report IsZero")
}

func TestNumberText(t *testing.T) {
	t.Parallel()
	var n Number
	testutil.NoError(t, n.UnmarshalText([]byte("+1 415 555 2671")))
	out, err := n.MarshalText()
	testutil.NoError(t, err)
	testutil.Equal(t, "+14155552671", string(out))

	err = n.UnmarshalText([]byte("garbage"))
	testutil.True(t, errors.Is(err, ErrInvalidPhoneNumber), "garbage should be rejected")
}

func TestWithField(t *testing.T) {
	t.Parallel()
	_, err := Normalize("not-a-number", "")
	err = WithField(err, "To")
	testutil.ErrorContains(t, err, "phone: To: malformed phone number")

	plain := errors.New("boom")
	testutil.Equal(t, plain, WithField(plain, "To"))
}

// --- Normalizer ---

func TestNormalizerDefaultRegion(t *testing.T) {
	t.Parallel()
	n := Normalizer{DefaultRegion: "GB"}
	got, err := n.Normalize("020 7946 0958")
	testutil.NoError(t, err)
	testutil.Equal(t, "+442079460958", got.E164())
}

func TestNormalizerAllowedRegions(t *testing.T) {
	t.Parallel()
	n := Normalizer{AllowedRegions: []string{"US", "gb"}}

	_, err := n.Normalize("+14155552671")
	testutil.NoError(t, err)
	_, err = n.Normalize("+442079460958")
	testutil.NoError(t, err)

	_, err = n.Normalize("+16135550123") // Canada shares +1
	var ve *ValidationError
	testutil.True(t, errors.As(err, &ve), "CA number should be blocked when only US allowed")
	testutil.Equal(t, InvalidForRegion, ve.Kind)
	testutil.Equal(t, "CA", ve.Region)

	_, err = n.Normalize("+919876543210")
	testutil.True(t, errors.Is(err, ErrInvalidPhoneNumber), "IN number should be blocked")
}

func TestNormalizerEmptyAllowListAllowsAll(t *testing.T) {
	t.Parallel()
	var n Normalizer
	for _, in := range []string{"+14155552671", "+818012345678", "+2348031234567", "+6591234567"} {
		_, err := n.Normalize(in)
		testutil.NoError(t, err)
	}
}

func TestIsKnownRegion(t *testing.T) {
	t.Parallel()
	testutil.True(t, IsKnownRegion("ke"), "KE should be known")
	testutil.False(t, IsKnownRegion("XX"), "XX should be unknown")
}
