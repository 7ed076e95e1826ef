package pii

import (
	"regexp"
)

// Type labels a category of personally identifiable information.
type Type string

const (
	TypeSSN        Type = "SSN"
	TypeCreditCard Type = "CREDIT_CARD"
	TypeEmail      Type = "EMAIL"
	TypePhone      Type = "PHONE"
	TypeIPAddress  Type = "IP_ADDRESS"
)

// Pattern represents a compiled PII detection pattern.
type Pattern struct {
	// Type is the PII category this pattern detects.
	Type Type

	// Regex is the compiled regular expression.
	Regex *regexp.Regexp

	// Placeholder replaces matches when redacting.
	Placeholder string

	// Validator filters regex matches; nil accepts every match.
	Validator func(match string) bool
}

// defaultPatterns returns the built-in PII patterns in application order.
// Order matters: credit card matching runs before phone so digit runs are
// claimed by the stricter Luhn-gated pattern first, and placeholders contain
// no digits so a redacted string never re-matches.
func defaultPatterns() []*Pattern {
	return []*Pattern{
		// SSN: 123-45-6789 or 123 45 6789
		{
			Type:        TypeSSN,
			Regex:       regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`),
			Placeholder: "[REDACTED_SSN]",
		},
		// Credit card: 13-19 digits, optionally separated by spaces or
		// dashes. Luhn validation rejects arbitrary digit runs.
		{
			Type:        TypeCreditCard,
			Regex:       regexp.MustCompile(`\b(?:\d[-\s]?){12,18}\d\b`),
			Placeholder: "[REDACTED_CC]",
			Validator:   LuhnValid,
		},
		// Email
		{
			Type:        TypeEmail,
			Regex:       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Placeholder: "[REDACTED_EMAIL]",
		},
		// US phone: requires separators between groups so bare digit runs
		// (order ids, timestamps) do not match.
		{
			Type:        TypePhone,
			Regex:       regexp.MustCompile(`(?:\+1[-.\s])?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`),
			Placeholder: "[REDACTED_PHONE]",
		},
		// IPv4, each octet <= 255 (keeps version strings like 1.2.3 out)
		{
			Type:        TypeIPAddress,
			Regex:       regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\b`),
			Placeholder: "[REDACTED_IP]",
		},
	}
}

// LuhnValid reports whether the digits in s pass the Luhn mod-10 checksum.
// Non-digit separators are stripped before the check. Sequences outside
// 13-19 digits are rejected.
func LuhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alternate := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if alternate {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alternate = !alternate
	}
	return sum%10 == 0
}
