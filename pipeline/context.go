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
	"sentinelgate/gateway/audit"
	"sentinelgate/gateway/clients"
	"sentinelgate/gateway/providers"
	"sentinelgate/gateway/ratelimit"
)

// RequestContext carries one request through the pipeline. Stages read
// what earlier stages resolved and may mutate the request (redaction).
type RequestContext struct {
	// RequestID is the gateway-assigned id, echoed in X-Request-Id.
	RequestID string

	// APIKey is the value of the X-API-Key header.
	APIKey string

	// Request is the parsed canonical request. The PII stage may rewrite
	// message contents before forwarding.
	Request *providers.ChatRequest

	// Client is resolved by the auth stage.
	Client *clients.Config

	// RateResult is set by the rate limit stage; the binding emits the
	// advisory X-RateLimit-* headers from it on every response.
	RateResult *ratelimit.Result

	// Record accumulates the audit trail. The orchestrator owns it; the
	// handler emits it exactly once when the request finishes.
	Record *audit.Record
}

// NewRequestContext starts a context for one request.
func NewRequestContext(requestID, apiKey string, req *providers.ChatRequest) *RequestContext {
	rc := &RequestContext{
		RequestID: requestID,
		APIKey:    apiKey,
		Request:   req,
		Record:    audit.NewRecord(requestID),
	}
	if req != nil {
		rc.Record.Model = req.Model
		rc.Record.Stream = req.Stream
	}
	return rc
}

// Credential resolves the upstream credential for the authenticated
// client.
func (rc *RequestContext) Credential() providers.Credential {
	if rc.Client == nil {
		return providers.Credential{}
	}
	return providers.Credential{
		APIKey:         rc.Client.UpstreamCredential,
		BedrockModelID: rc.Client.BedrockModelID,
	}
}
