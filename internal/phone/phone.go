// Package phone validates phone numbers and canonicalizes them to E.164
// before they are handed to a provider.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidPhoneNumber matches every ValidationError via errors.Is.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// Kind classifies a validation failure.
type Kind int

const (
	// Malformed input could not be parsed as a phone number at all.
	Malformed Kind = iota + 1
	// InvalidForRegion input parsed but matches no numbering plan for its
	// region, or the region is unknown or not allowed.
	InvalidForRegion
)

func (k Kind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case InvalidForRegion:
		return "invalid for region"
	default:
		return "unknown"
	}
}

// ValidationError describes a rejected phone number.
type ValidationError struct {
	Field  string // request field, e.g. "To"; empty outside a request
	Input  string
	Region string
	Kind   Kind
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("phone: ")
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s phone number %q", e.Kind, e.Input)
	if e.Kind == InvalidForRegion && e.Region != "" {
		fmt.Fprintf(&b, " (region %s)", e.Region)
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidPhoneNumber
}

// WithField returns err with Field set when err is a *ValidationError.
// Other errors are returned unchanged.
func WithField(err error, field string) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		cp := *ve
		cp.Field = field
		return &cp
	}
	return err
}

// Number is a validated phone number. The zero value is not a valid number;
// values are only produced by Normalize.
type Number struct {
	e164        string
	region      string
	countryCode int
}

// E164 returns the canonical "+<cc><national>" form.
func (n Number) E164() string { return n.e164 }

// Region returns the ISO 3166-1 alpha-2 region, or "001" for non-geographic numbers.
func (n Number) Region() string { return n.region }

// CountryCode returns the calling code, e.g. 44.
func (n Number) CountryCode() int { return n.countryCode }

// IsZero reports whether n was never produced by Normalize.
func (n Number) IsZero() bool { return n.e164 == "" }

func (n Number) String() string { return n.e164 }

func (n Number) MarshalText() ([]byte, error) { return []byte(n.e164), nil }

// UnmarshalText accepts only numbers with an explicit country code.
func (n *Number) UnmarshalText(text []byte) error {
	parsed, err := Normalize(string(text), "")
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Normalize parses raw, applying regionHint when raw has no leading '+', and
// returns the validated number. The result is idempotent:
// Normalize(n.E164(), "") yields n.
func Normalize(raw, regionHint string) (Number, error) {
	input := strings.TrimSpace(raw)
	region := strings.ToUpper(strings.TrimSpace(regionHint))

	hasPlus, ok := prescreen(input)
	if !ok {
		return Number{}, &ValidationError{Input: raw, Kind: Malformed}
	}
	if !hasPlus {
		if region == "" {
			return Number{}, &ValidationError{Input: raw, Kind: Malformed}
		}
		if phonenumbers.GetCountryCodeForRegion(region) == 0 {
			return Number{}, &ValidationError{Input: raw, Region: region, Kind: InvalidForRegion}
		}
	}

	parseRegion := region
	if hasPlus {
		parseRegion = ""
	}
	num, err := phonenumbers.ParseAndKeepRawInput(input, parseRegion)
	if err != nil {
		return Number{}, &ValidationError{Input: raw, Region: region, Kind: Malformed}
	}

	numRegion := phonenumbers.GetRegionCodeForNumber(num)
	valid := phonenumbers.IsValidNumber(num)
	// Only a number whose country code came from the hint must belong to
	// that region; an IDD prefix such as "011 44" names its own country.
	if valid && num.GetCountryCodeSource() == phonenumbers.PhoneNumber_FROM_DEFAULT_COUNTRY {
		valid = phonenumbers.IsValidNumberForRegion(num, region)
	}
	if !valid {
		if numRegion == "" {
			numRegion = region
		}
		return Number{}, &ValidationError{Input: raw, Region: numRegion, Kind: InvalidForRegion}
	}

	return Number{
		e164:        phonenumbers.Format(num, phonenumbers.E164),
		region:      numRegion,
		countryCode: int(num.GetCountryCode()),
	}, nil
}

// prescreen allows ASCII digits, common separators, and a single leading
// '+'. It reports whether the '+' was present.
func prescreen(input string) (hasPlus, ok bool) {
	if input == "" {
		return false, false
	}
	digits := 0
	for i, r := range input {
		switch {
		case r == '+':
			if i != 0 {
				return false, false
			}
			hasPlus = true
		case r >= '0' && r <= '9':
			digits++
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return false, false
		}
	}
	return hasPlus, digits > 0
}
