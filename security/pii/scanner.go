package pii

import (
	"strings"
	"time"

	"sentinelgate/gateway/config"
)

// Finding records one detected PII value.
type Finding struct {
	// Type is the PII category.
	Type Type `json:"type"`

	// Count is how many occurrences of this type were found.
	Count int `json:"count"`
}

// Result represents the outcome of a PII scan.
type Result struct {
	// Clean indicates that the content may pass unchanged. With action
	// "redact" it is false when redactions were applied; with "block" it is
	// false when the request must be rejected; with "log_only" it is always
	// true.
	Clean bool `json:"clean"`

	// Findings lists the detected PII types with occurrence counts.
	Findings []Finding `json:"findings,omitempty"`

	// Redacted holds the content with placeholders substituted. Set only
	// when the action is "redact" and something matched.
	Redacted string `json:"-"`

	// Total is the total number of detections across all types.
	Total int `json:"total"`

	// Action is the operating mode the scan ran under.
	Action config.PIIAction `json:"action"`

	// Duration is how long the scan took.
	Duration time.Duration `json:"duration_ns"`
}

// Types returns the detected PII type labels in detection order.
func (r *Result) Types() []string {
	types := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		types = append(types, string(f.Type))
	}
	return types
}

// Scanner detects and redacts PII using the built-in pattern table.
// The zero configuration scans with all five pattern types.
type Scanner struct {
	patterns []*Pattern
	action   config.PIIAction
}

// NewScanner creates a scanner operating under the given action.
func NewScanner(action config.PIIAction) *Scanner {
	return &Scanner{
		patterns: defaultPatterns(),
		action:   action,
	}
}

// Action returns the scanner's operating mode.
func (s *Scanner) Action() config.PIIAction {
	return s.action
}

// Scan checks content for PII and applies the configured action.
// Redaction replaces each occurrence with its type placeholder; applying
// redaction to already-redacted content is a no-op because placeholders
// contain no digits or address-like text.
func (s *Scanner) Scan(content string) *Result {
	start := time.Now()

	if strings.TrimSpace(content) == "" {
		return &Result{Clean: true, Action: s.action, Duration: time.Since(start)}
	}

	redacted := content
	counts := make(map[Type]int)
	var order []Type
	total := 0

	for _, p := range s.patterns {
		matches := p.Regex.FindAllString(content, -1)
		for _, matched := range matches {
			if p.Validator != nil && !p.Validator(matched) {
				continue
			}

			total++
			if counts[p.Type] == 0 {
				order = append(order, p.Type)
			}
			counts[p.Type]++
			// Replace the first remaining occurrence; earlier redactions may
			// already have consumed overlapping text, in which case this is
			// a no-op.
			redacted = strings.Replace(redacted, matched, p.Placeholder, 1)
		}
	}

	if total == 0 {
		return &Result{Clean: true, Action: s.action, Duration: time.Since(start)}
	}

	findings := make([]Finding, 0, len(order))
	for _, t := range order {
		findings = append(findings, Finding{Type: t, Count: counts[t]})
	}

	result := &Result{
		Findings: findings,
		Total:    total,
		Action:   s.action,
		Duration: time.Since(start),
	}

	switch s.action {
	case config.PIIActionBlock:
		result.Clean = false
	case config.PIIActionRedact:
		result.Clean = false
		result.Redacted = redacted
	default: // log_only
		result.Clean = true
	}

	return result
}
