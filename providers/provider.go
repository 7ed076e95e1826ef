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

package providers

import (
	"context"
	"fmt"
)

// Credential carries the per-client upstream credential resolved by the
// client store. Bedrock ignores the API key (the SDK uses ambient IAM
// identity) but needs a provider model id.
type Credential struct {
	// APIKey is the bearer token for OpenAI-style upstreams. Empty means
	// the adapter falls back to the globally configured key.
	APIKey string

	// BedrockModelID is the Converse model identifier for Bedrock clients.
	BedrockModelID string
}

// StreamHandler receives each chunk of a streaming completion, including
// the terminal sentinel. Returning an error aborts the stream.
type StreamHandler func(chunk StreamChunk) error

// Provider is the unified interface for LLM upstreams.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider tag ("openai", "bedrock").
	Name() string

	// Complete forwards a non-streaming completion and returns the upstream
	// reply in the canonical shape. The context carries the deadline.
	Complete(ctx context.Context, req *ChatRequest, cred Credential) (*Response, error)

	// Stream forwards a streaming completion, invoking handler for every
	// chunk in order, ending with the terminal sentinel. The handler runs
	// on the calling goroutine.
	Stream(ctx context.Context, req *ChatRequest, cred Credential, handler StreamHandler) error
}

// UpstreamError describes a failed upstream call, carrying the HTTP status
// the gateway should answer with.
type UpstreamError struct {
	// StatusCode is the client-facing status (502 for connection failures
	// and unclassified provider errors, 504 for deadline, provider-specific
	// mappings otherwise).
	StatusCode int

	// Timeout marks deadline expiry.
	Timeout bool

	// Message is safe to show to clients.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}
