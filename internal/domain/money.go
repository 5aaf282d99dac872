package domain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseAmount parses a localized amount string into signed minor units
// (cents). decimalSep and thousandsSep describe the source format, so both
// "1,234.56" and "1.234,56" round-trip to 123456. Currency symbols and
// letters (EUR, CHF) are ignored. Integer arithmetic throughout: amounts
// never pass through a float.
func ParseAmount(s, decimalSep, thousandsSep string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9' || r == '-' || r == '+':
			b.WriteRune(r)
		case string(r) == decimalSep:
			b.WriteRune('.')
		case string(r) == thousandsSep:
			// grouping separator, dropped
		case r == '€' || r == '$' || r == '£' || unicode.IsSpace(r) || unicode.IsLetter(r):
			// currency markers, dropped
		default:
			return 0, fmt.Errorf("invalid character %q in amount %q", r, s)
		}
	}

	clean := b.String()
	neg := strings.HasPrefix(clean, "-")
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "+"), "-")
	if clean == "" || strings.ContainsAny(clean, "+-") {
		return 0, fmt.Errorf("malformed amount %q", s)
	}

	intPart, fracPart, _ := strings.Cut(clean, ".")
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed amount %q: %w", s, err)
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed amount %q: %w", s, err)
	}

	cents := whole*100 + frac
	if neg {
		cents = -cents
	}
	return cents, nil
}

// FormatAmount renders minor units as a plain decimal string ("-49.99").
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// AbsAmount returns the magnitude of an amount in minor units.
func AbsAmount(cents int64) int64 {
	if cents < 0 {
		return -cents
	}
	return cents
}
