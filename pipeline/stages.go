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

package pipeline

import (
	"context"
	"errors"
	"math"

	"sentinelgate/gateway/clients"
	"sentinelgate/gateway/config"
	"sentinelgate/gateway/ratelimit"
	"sentinelgate/gateway/security/injection"
	"sentinelgate/gateway/security/pii"
)

// Stage is one security check in the request pipeline. Evaluate runs on
// the request goroutine and must not block beyond its own I/O.
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, rc *RequestContext) Decision
}

// AuthStage resolves the API key against the client store.
type AuthStage struct {
	store clients.Store
}

// NewAuthStage creates the authentication stage.
func NewAuthStage(store clients.Store) *AuthStage {
	return &AuthStage{store: store}
}

// Name implements Stage.
func (s *AuthStage) Name() string { return "auth" }

// Evaluate implements Stage.
func (s *AuthStage) Evaluate(ctx context.Context, rc *RequestContext) Decision {
	if rc.APIKey == "" {
		return Decision{
			Allow:      false,
			ReasonCode: ReasonUnauthenticated,
			Action:     ActionBlock,
			Detail:     map[string]interface{}{"error": "missing X-API-Key header"},
		}
	}

	client, err := s.store.Lookup(ctx, rc.APIKey)
	if err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			return Decision{
				Allow:      false,
				ReasonCode: ReasonUnauthenticated,
				Action:     ActionBlock,
				Detail:     map[string]interface{}{"error": "invalid API key"},
			}
		}
		return Decision{
			Allow:      false,
			ReasonCode: ReasonStoreUnavailable,
			Action:     ActionBlock,
			Detail:     map[string]interface{}{"error": "client store unavailable"},
		}
	}

	if client.Suspended() {
		return Decision{
			Allow:      false,
			ReasonCode: ReasonClientSuspended,
			Action:     ActionBlock,
			Detail:     map[string]interface{}{"client_id": client.ClientID},
		}
	}

	rc.Client = client
	rc.Record.ClientID = client.ClientID
	rc.Record.Provider = client.Provider
	return Decision{
		Allow:  true,
		Action: ActionPass,
		Detail: map[string]interface{}{"client_id": client.ClientID},
	}
}

// RateLimitStage consults the sliding-window limiter.
type RateLimitStage struct {
	limiter ratelimit.Limiter
}

// NewRateLimitStage creates the rate limit stage.
func NewRateLimitStage(limiter ratelimit.Limiter) *RateLimitStage {
	return &RateLimitStage{limiter: limiter}
}

// Name implements Stage.
func (s *RateLimitStage) Name() string { return "rate_limit" }

// Evaluate implements Stage.
func (s *RateLimitStage) Evaluate(ctx context.Context, rc *RequestContext) Decision {
	result := s.limiter.Check(ctx, rc.Client.ClientID, rc.Client.RateLimitRPM)
	rc.RateResult = &result

	if !result.Allowed {
		retryAfter := int(math.Ceil(result.Reset.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{
			Allow:      false,
			ReasonCode: ReasonRateLimited,
			Action:     ActionBlock,
			Detail: map[string]interface{}{
				"limit":       result.Limit,
				"retry_after": retryAfter,
			},
		}
	}

	return Decision{
		Allow:  true,
		Action: ActionPass,
		Detail: map[string]interface{}{"remaining": result.Remaining},
	}
}

// ModelAllowlistStage checks the request model against the client's
// allowlist. An empty allowlist is permissive.
type ModelAllowlistStage struct{}

// Name implements Stage.
func (s *ModelAllowlistStage) Name() string { return "model_allowlist" }

// Evaluate implements Stage.
func (s *ModelAllowlistStage) Evaluate(_ context.Context, rc *RequestContext) Decision {
	if !rc.Client.ModelAllowed(rc.Request.Model) {
		return Decision{
			Allow:      false,
			ReasonCode: ReasonModelNotAllowed,
			Action:     ActionBlock,
			Detail: map[string]interface{}{
				"model":          rc.Request.Model,
				"allowed_models": rc.Client.AllowedModels,
			},
		}
	}
	return allowed()
}

// InjectionStage scores user-provided text for prompt injection.
type InjectionStage struct {
	scorer *injection.Scorer
}

// NewInjectionStage creates the request-side injection stage.
func NewInjectionStage(scorer *injection.Scorer) *InjectionStage {
	return &InjectionStage{scorer: scorer}
}

// Name implements Stage.
func (s *InjectionStage) Name() string { return "injection_scan" }

// Evaluate implements Stage.
func (s *InjectionStage) Evaluate(_ context.Context, rc *RequestContext) Decision {
	result := s.scorer.Scan(rc.Request.UserText())

	detail := map[string]interface{}{
		"score":     result.Score,
		"threshold": result.Threshold,
	}
	if len(result.MatchedPatterns) > 0 {
		detail["matched_patterns"] = result.MatchedPatterns
	}

	if !result.Allowed {
		return Decision{
			Allow:      false,
			ReasonCode: ReasonInjectionBlocked,
			Action:     ActionBlock,
			Detail:     detail,
		}
	}
	return Decision{Allow: true, Action: ActionPass, Detail: detail}
}

// PIIStage scans user-provided text for PII and applies the request-side
// action: redact rewrites the last user message, block denies, log_only
// records findings only.
type PIIStage struct {
	scanner *pii.Scanner
}

// NewPIIStage creates the request-side PII stage.
func NewPIIStage(scanner *pii.Scanner) *PIIStage {
	return &PIIStage{scanner: scanner}
}

// Name implements Stage.
func (s *PIIStage) Name() string { return "pii_scan" }

// Evaluate implements Stage.
func (s *PIIStage) Evaluate(_ context.Context, rc *RequestContext) Decision {
	result := s.scanner.Scan(rc.Request.UserText())

	detail := map[string]interface{}{"action": string(result.Action)}
	if result.Total > 0 {
		detail["findings"] = result.Findings
		detail["total"] = result.Total
	}

	if result.Total == 0 {
		return Decision{Allow: true, Action: ActionPass, Detail: detail}
	}

	switch s.scanner.Action() {
	case config.PIIActionBlock:
		return Decision{
			Allow:      false,
			ReasonCode: ReasonPIIBlocked,
			Action:     ActionBlock,
			Detail:     detail,
		}
	case config.PIIActionRedact:
		rc.Request.ReplaceLastUserContent(result.Redacted)
		return Decision{Allow: true, Action: ActionRedact, Detail: detail}
	default:
		return Decision{Allow: true, Action: ActionLogOnly, Detail: detail}
	}
}

// StreamingGateStage rejects streaming requests on platforms whose
// serving stack buffers full responses.
type StreamingGateStage struct {
	streamingEnabled bool
}

// NewStreamingGateStage creates the platform streaming gate.
func NewStreamingGateStage(enabled bool) *StreamingGateStage {
	return &StreamingGateStage{streamingEnabled: enabled}
}

// Name implements Stage.
func (s *StreamingGateStage) Name() string { return "streaming_gate" }

// Evaluate implements Stage.
func (s *StreamingGateStage) Evaluate(_ context.Context, rc *RequestContext) Decision {
	if rc.Request.Stream && !s.streamingEnabled {
		return Decision{
			Allow:      false,
			ReasonCode: ReasonStreamingUnsupported,
			Action:     ActionBlock,
			Detail:     map[string]interface{}{"error": "streaming is not supported on this deployment"},
		}
	}
	return allowed()
}
