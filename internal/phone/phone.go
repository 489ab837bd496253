// Package phone canonicalizes phone numbers so numbers from different
// providers and customer records compare equal.
package phone

import "strings"

// Normalize returns the canonical form of a phone number.
//
// North American numbers (10 digits, or 11 digits with a leading 1) become
// +1XXXXXXXXXX. Other numbers written with a leading "+" keep it and are
// reduced to their digits. Anything else is reduced to its digits. The
// result is stable: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	international := strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "00")
	digits := Digits(raw)
	if strings.HasPrefix(raw, "00") {
		digits = strings.TrimPrefix(digits, "00")
	}

	switch {
	case digits == "":
		return ""
	case len(digits) == 10 && !international:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	case international:
		return "+" + digits
	}
	return digits
}

// Digits strips everything except ASCII digits.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsNANP reports whether raw normalizes to a North American number.
func IsNANP(raw string) bool {
	n := Normalize(raw)
	return len(n) == 12 && strings.HasPrefix(n, "+1")
}

// Last10 returns the last ten digits of a number, used for loose matching
// against stored records that were saved without a country code.
func Last10(raw string) string {
	d := Digits(raw)
	if len(d) <= 10 {
		return d
	}
	return d[len(d)-10:]
}
