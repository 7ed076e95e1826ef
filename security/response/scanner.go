// Copyright 2025 SentinelGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package response combines the injection scorer and PII scanner for
// model output. Injection findings in responses are always advisory; only
// PII in block mode changes what the client receives.
package response

import (
	"sentinelgate/gateway/config"
	"sentinelgate/gateway/security/injection"
	"sentinelgate/gateway/security/pii"
)

// Result is the combined outcome of scanning model output.
type Result struct {
	// Injection is the advisory injection scan of the output.
	Injection *injection.Result `json:"injection"`

	// PII is the PII scan of the output under the response-side action.
	PII *pii.Result `json:"pii"`

	// Blocked is true when the response-side PII action is "block" and
	// the output contained PII. The injection score never sets it.
	Blocked bool `json:"blocked"`
}

// Scanner scans completed model output.
type Scanner struct {
	injection *injection.Scorer
	pii       *pii.Scanner
	action    config.PIIAction
}

// NewScanner builds a response scanner. The injection threshold matches the
// request side so audit scores are comparable; the PII action is the
// response-side action.
func NewScanner(threshold float64, action config.PIIAction) *Scanner {
	return &Scanner{
		injection: injection.NewScorer(threshold),
		pii:       pii.NewScanner(action),
		action:    action,
	}
}

// Scan runs both scanners over the accumulated output text.
func (s *Scanner) Scan(content string) *Result {
	injResult := s.injection.Scan(content)
	piiResult := s.pii.Scan(content)

	return &Result{
		Injection: injResult,
		PII:       piiResult,
		Blocked:   s.action == config.PIIActionBlock && piiResult.Total > 0,
	}
}

// Redacted returns the redacted output when the response-side action is
// "redact" and something matched; otherwise it returns content unchanged.
func (s *Scanner) Redacted(content string, r *Result) string {
	if s.action == config.PIIActionRedact && r.PII.Redacted != "" {
		return r.PII.Redacted
	}
	return content
}

// RedactContent re-scans one content fragment and returns it with PII
// placeholders substituted. Used for per-choice redaction of
// non-streaming bodies; fragments without PII come back unchanged.
func (s *Scanner) RedactContent(content string) string {
	r := s.pii.Scan(content)
	if r.Redacted != "" {
		return r.Redacted
	}
	return content
}
