package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizePassword maps compatibility-equivalent code points to one form so
// that the same password typed on different keyboards hashes identically.
func NormalizePassword(s string) string {
	return norm.NFKC.String(s)
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
