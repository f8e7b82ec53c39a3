// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "US"

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsPossibleNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// Digits strips everything except ASCII digits.
func Digits(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Variants returns the stored formats a number may have been saved under:
// the raw value, E.164 with plus, country code plus ten digits, and the bare
// last ten digits. Duplicates and empty values are dropped; order is stable.
func Variants(input string) []string {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return nil
	}

	candidates := []string{raw}
	if e164 := NormalizeE164(raw); strings.HasPrefix(e164, "+") {
		candidates = append(candidates, e164)
	}

	digits := Digits(raw)
	if len(digits) >= 10 {
		last10 := digits[len(digits)-10:]
		candidates = append(candidates, "+1"+last10, "1"+last10, last10)
	} else if digits != "" {
		candidates = append(candidates, digits)
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// IsPlaceholder reports whether a stored phone carries no usable number:
// empty, the "unknown" marker, or only zeros.
func IsPlaceholder(input string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || strings.EqualFold(trimmed, "unknown") {
		return true
	}
	digits := Digits(trimmed)
	return strings.Trim(digits, "0") == ""
}
