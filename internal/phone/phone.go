// Package phone extracts canonical Brazilian WhatsApp numbers from free-text
// contact fields. Patient contact columns hold anything operators typed over
// the years: multiple numbers split by semicolons, formatting punctuation,
// sometimes notes.
package phone

import "strings"

const countryPrefix = "55"

// ExtractPrimary returns the first segment of raw that can be shaped into a
// Brazilian E.164 number, formatted as +55XXXXXXXXXX(X). The second return is
// false when no segment qualifies; callers typically fall back to the raw
// string so the dashboard still shows something.
func ExtractPrimary(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	for _, segment := range splitSegments(raw) {
		digits := Digits(segment)
		if digits == "" {
			continue
		}
		n := digits
		switch {
		case strings.HasPrefix(n, countryPrefix):
			// already carries the country code
		case len(n) >= 10 && len(n) <= 11:
			n = countryPrefix + n
		}
		if len(n) >= 12 && len(n) <= 13 {
			return "+" + n, true
		}
	}
	return "", false
}

func splitSegments(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ';', '|', ',', '\n', '\r', '\t':
			return true
		}
		return false
	})
}

// Digits strips s down to its ASCII digits. Phone matching and the Graph API
// both want bare digits, no "+" prefix or separators.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
