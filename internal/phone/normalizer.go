package phone

import (
	"slices"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Normalizer applies a default region and an optional region allow-list.
// The zero value requires a '+' prefix and allows every region.
type Normalizer struct {
	DefaultRegion  string
	AllowedRegions []string
}

// Normalize validates raw using the default region hint and rejects numbers
// outside AllowedRegions.
func (n Normalizer) Normalize(raw string) (Number, error) {
	num, err := Normalize(raw, n.DefaultRegion)
	if err != nil {
		return Number{}, err
	}
	if !n.Allowed(num) {
		return Number{}, &ValidationError{Input: raw, Region: num.Region(), Kind: InvalidForRegion}
	}
	return num, nil
}

// Allowed reports whether num's region is in AllowedRegions. An empty list
// permits all.
func (n Normalizer) Allowed(num Number) bool {
	if len(n.AllowedRegions) == 0 {
		return true
	}
	if num.Region() == "" {
		return false
	}
	return slices.ContainsFunc(n.AllowedRegions, func(r string) bool {
		return strings.EqualFold(r, num.Region())
	})
}

// IsKnownRegion reports whether region has a calling code in the metadata.
func IsKnownRegion(region string) bool {
	return phonenumbers.GetCountryCodeForRegion(strings.ToUpper(region)) != 0
}
