package injection

import (
	"strings"
	"time"
)

// Result represents the outcome of an injection scan.
type Result struct {
	// Allowed indicates whether the content stayed under the threshold.
	Allowed bool `json:"allowed"`

	// Score is the cumulative risk score reported to callers, capped at 1.0.
	Score float64 `json:"score"`

	// MatchedPatterns lists the names of patterns that matched at least once.
	MatchedPatterns []string `json:"matched_patterns,omitempty"`

	// MatchedCategories lists the distinct categories among the matches.
	MatchedCategories []Category `json:"matched_categories,omitempty"`

	// Threshold is the configured blocking threshold.
	Threshold float64 `json:"threshold"`

	// Duration is how long the scan took.
	Duration time.Duration `json:"duration_ns"`
}

// Scorer performs cumulative weighted scoring of prompt text against the
// injection pattern set. Each distinct pattern contributes its weight at
// most once regardless of how many times it matches; stacking several
// techniques is what pushes a prompt over the threshold.
type Scorer struct {
	patterns  *PatternSet
	threshold float64
}

// ScorerOption is a functional option for configuring a Scorer.
type ScorerOption func(*Scorer)

// WithPatternSet sets a custom pattern set for the scorer.
func WithPatternSet(ps *PatternSet) ScorerOption {
	return func(s *Scorer) {
		s.patterns = ps
	}
}

// NewScorer creates a scorer that blocks at the given threshold.
func NewScorer(threshold float64, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		patterns:  NewPatternSet(),
		threshold: threshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Threshold returns the configured blocking threshold.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Scan scores the content against every pattern. The raw sum of distinct
// matched weights is compared against the threshold; the reported score is
// capped at 1.0.
func (s *Scorer) Scan(content string) *Result {
	start := time.Now()

	if strings.TrimSpace(content) == "" {
		return &Result{
			Allowed:   true,
			Score:     0.0,
			Threshold: s.threshold,
			Duration:  time.Since(start),
		}
	}

	// Patterns are case-insensitive, but lowercasing here keeps matching
	// behavior independent of any pattern added without the (?i) flag.
	lowered := strings.ToLower(content)

	total := 0.0
	var names []string
	var categories []Category
	seenCategory := make(map[Category]bool)

	for _, p := range s.patterns.Patterns() {
		if !p.Regex.MatchString(lowered) {
			continue
		}
		total += p.Weight
		names = append(names, p.Name)
		if !seenCategory[p.Category] {
			seenCategory[p.Category] = true
			categories = append(categories, p.Category)
		}
	}

	score := total
	if score > 1.0 {
		score = 1.0
	}

	return &Result{
		Allowed:           total < s.threshold,
		Score:             score,
		MatchedPatterns:   names,
		MatchedCategories: categories,
		Threshold:         s.threshold,
		Duration:          time.Since(start),
	}
}
