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

// Package pipeline sequences the gateway's security checks. Stages run
// strictly in order, each producing a decision that is appended to the
// request's audit record; the first deny short-circuits the rest.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"sentinelgate/gateway/audit"
	"sentinelgate/gateway/providers"
	"sentinelgate/gateway/security/response"
	"sentinelgate/gateway/shared/logger"
)

// Denial is the first denying stage's decision, with the stage name.
type Denial struct {
	Stage    string
	Decision Decision
}

// Status returns the HTTP status for the denial's reason code.
func (d *Denial) Status() int {
	return StatusForReason(d.Decision.ReasonCode)
}

// ResponseBlockedError signals that the response-side PII scan blocked a
// completed (non-streaming) upstream reply.
type ResponseBlockedError struct {
	Detail map[string]interface{}
}

// Error implements the error interface.
func (e *ResponseBlockedError) Error() string {
	return "response blocked by security policy"
}

// Orchestrator runs the pre-forward stages, forwards through the selected
// provider, and applies the response-side scan.
type Orchestrator struct {
	stages   []Stage
	registry *providers.Registry
	scanner  *response.Scanner
	timeout  time.Duration
	log      *logger.Logger
}

// New assembles an orchestrator. The stage order is the caller's; the
// standard gateway order is auth, rate limit, model allowlist, injection
// scan, PII scan, streaming gate.
func New(stages []Stage, registry *providers.Registry, scanner *response.Scanner, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		stages:   stages,
		registry: registry,
		scanner:  scanner,
		timeout:  timeout,
		log:      logger.New("pipeline"),
	}
}

// Evaluate runs the pre-forward stages in order, recording every decision
// in the audit record. It returns the first denial, or nil when all
// stages allowed the request.
func (o *Orchestrator) Evaluate(ctx context.Context, rc *RequestContext) *Denial {
	for _, stage := range o.stages {
		decision := o.evaluateStage(ctx, stage, rc)

		rc.Record.AddStage(audit.StageDecision{
			Name:       stage.Name(),
			Allow:      decision.Allow,
			ReasonCode: decision.ReasonCode,
			Detail:     decision.Detail,
		})

		if !decision.Allow {
			o.log.Info(rc.Record.ClientID, rc.RequestID, "request denied", map[string]interface{}{
				"stage":  stage.Name(),
				"reason": decision.ReasonCode,
			})
			return &Denial{Stage: stage.Name(), Decision: decision}
		}
	}
	return nil
}

// evaluateStage isolates stage panics so an unexpected condition becomes
// an internal_error denial instead of crashing the request goroutine.
func (o *Orchestrator) evaluateStage(ctx context.Context, stage Stage, rc *RequestContext) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error(rc.Record.ClientID, rc.RequestID, "stage panicked", map[string]interface{}{
				"stage": stage.Name(),
				"panic": fmt.Sprint(r),
			})
			decision = Decision{
				Allow:      false,
				ReasonCode: ReasonInternalError,
				Action:     ActionBlock,
				Detail:     map[string]interface{}{"error": "internal error"},
			}
		}
	}()
	return stage.Evaluate(ctx, rc)
}

// provider resolves the adapter for the authenticated client.
func (o *Orchestrator) provider(rc *RequestContext) (providers.Provider, error) {
	p, err := o.registry.Get(rc.Client.Provider)
	if err != nil {
		return nil, fmt.Errorf("provider %q unavailable: %w", rc.Client.Provider, err)
	}
	return p, nil
}

// Complete forwards a non-streaming request and scans the reply before it
// is returned. Upstream errors pass through as *providers.UpstreamError;
// a blocking response scan returns *ResponseBlockedError.
func (o *Orchestrator) Complete(ctx context.Context, rc *RequestContext) (*providers.Response, error) {
	p, err := o.provider(rc)
	if err != nil {
		return nil, err
	}

	forwardCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Complete(forwardCtx, rc.Request, rc.Credential())
	rc.Record.UpstreamLatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}

	// Upstream non-2xx bodies pass through verbatim; only successful
	// completions carry model output worth scanning.
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	scan := o.scanner.Scan(resp.Content())
	rc.Record.ResponseScan = scanDetail(scan)

	if scan.Blocked {
		return nil, &ResponseBlockedError{Detail: scanDetail(scan)}
	}

	if scan.PII.Redacted != "" {
		if err := resp.RedactContents(o.scanner.RedactContent); err != nil {
			o.log.Error(rc.Record.ClientID, rc.RequestID, "response redaction failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return resp, nil
}

// scanDetail flattens a response scan into the audit record shape.
func scanDetail(scan *response.Result) map[string]interface{} {
	detail := map[string]interface{}{
		"blocked":         scan.Blocked,
		"injection_score": scan.Injection.Score,
		"pii_action":      string(scan.PII.Action),
	}
	if len(scan.Injection.MatchedPatterns) > 0 {
		detail["injection_patterns"] = scan.Injection.MatchedPatterns
	}
	if scan.PII.Total > 0 {
		detail["pii_findings"] = scan.PII.Findings
		detail["pii_total"] = scan.PII.Total
	}
	return detail
}
