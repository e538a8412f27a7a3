package dispatch

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/recoverly/dunning-engine/internal/model"
)

// ResolvePhoneNumber returns the raw phone number for a customer, preferring
// the metadata override the billing importer writes over the profile field.
// The second return is false when the customer has no number at all, which
// callers must treat as a skip, not a failure.
func ResolvePhoneNumber(customer *model.Customer) (string, bool) {
	if v, ok := customer.Metadata["phone_number"]; ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	if customer.PhoneNumber != nil && strings.TrimSpace(*customer.PhoneNumber) != "" {
		return *customer.PhoneNumber, true
	}
	return "", false
}

// NormalizePhoneNumber canonicalizes a raw phone number to E.164. Accepted
// shapes: 10-digit NANP, 11 digits with a leading 1, and already-prefixed
// international numbers of 8 to 15 digits. Extensions ("x123", "ext. 4")
// are stripped.
func NormalizePhoneNumber(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("phone number is empty")
	}

	if i := indexExtension(s); i >= 0 {
		s = s[:i]
	}

	hasPlus := strings.HasPrefix(s, "+")
	var digits strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case hasPlus && len(d) >= 8 && len(d) <= 15:
		return "+" + d, nil
	case !hasPlus && len(d) == 10:
		return "+1" + d, nil
	case !hasPlus && len(d) == 11 && d[0] == '1':
		return "+" + d, nil
	}
	return "", fmt.Errorf("unrecognized phone number format: %q", raw)
}

func indexExtension(s string) int {
	lower := strings.ToLower(s)
	for _, marker := range []string{"ext", "x"} {
		if i := strings.Index(lower, marker); i > 0 {
			// "x" only counts as an extension marker when digits follow
			rest := strings.TrimLeft(lower[i+len(marker):], ". ")
			if rest != "" && unicode.IsDigit(rune(rest[0])) {
				return i
			}
		}
	}
	return -1
}
