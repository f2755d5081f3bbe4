package util

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidASIN is returned for identifiers that are not 10 alphanumerics.
var ErrInvalidASIN = errors.New("invalid asin")

var asinPattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// NormalizeASIN trims and upper-cases s and rejects malformed ASINs.
func NormalizeASIN(s string) (string, error) {
	asin := strings.ToUpper(strings.TrimSpace(s))
	if !asinPattern.MatchString(asin) {
		return "", ErrInvalidASIN
	}
	return asin, nil
}

// NormalizeASINs normalizes and de-duplicates asins, keeping first-seen
// order. Invalid entries are returned separately.
func NormalizeASINs(asins []string) (valid, invalid []string) {
	seen := make(map[string]bool, len(asins))
	for _, raw := range asins {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		asin, err := NormalizeASIN(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		if seen[asin] {
			continue
		}
		seen[asin] = true
		valid = append(valid, asin)
	}
	return valid, invalid
}
