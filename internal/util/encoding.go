package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail canonicalizes a login email: NFKD normalization, surrounding
// whitespace trimmed, lowercased. The server normalizes the same way, so a
// visually identical address always hits the same account.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKD.String(s)))
}
