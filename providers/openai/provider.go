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

// Package openai forwards requests to OpenAI-compatible chat completion
// APIs. The request body travels nearly verbatim; only security redactions
// applied earlier in the pipeline differ from what the client sent.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sentinelgate/gateway/providers"
)

const completionsPath = "/v1/chat/completions"

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the OpenAI-style provider.
type Config struct {
	BaseURL       string        // Required: upstream base, e.g. https://api.openai.com
	DefaultAPIKey string        // Fallback key when the client has none
	Timeout       time.Duration // HTTP timeout (default 60s)
}

// Provider implements providers.Provider for OpenAI-compatible upstreams.
type Provider struct {
	baseURL    string
	defaultKey string
	client     HTTPClient
}

// New creates an OpenAI-style provider.
func New(cfg Config) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Provider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		defaultKey: cfg.DefaultAPIKey,
		client:     &http.Client{Timeout: timeout},
	}
}

// Name returns the provider tag.
func (p *Provider) Name() string {
	return "openai"
}

// Complete forwards a non-streaming request and passes the upstream status
// and body through verbatim.
func (p *Provider) Complete(ctx context.Context, req *providers.ChatRequest, cred providers.Credential) (*providers.Response, error) {
	resp, err := p.post(ctx, req, cred)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &providers.UpstreamError{
			StatusCode: http.StatusBadGateway,
			Message:    "failed to read upstream response",
			Cause:      err,
		}
	}

	return &providers.Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// Stream forwards a streaming request, yielding each SSE data payload as a
// chunk. The literal [DONE] line becomes the terminal sentinel.
func (p *Provider) Stream(ctx context.Context, req *providers.ChatRequest, cred providers.Credential, handler providers.StreamHandler) error {
	resp, err := p.post(ctx, req, cred)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &providers.UpstreamError{
			StatusCode: http.StatusBadGateway,
			Message:    fmt.Sprintf("upstream returned status %d before streaming", resp.StatusCode),
			Cause:      errors.New(strings.TrimSpace(string(body))),
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			return handler(providers.StreamChunk{Data: data, Done: true})
		}

		if err := handler(providers.StreamChunk{
			Data:      data,
			TextDelta: extractDelta(data),
		}); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return p.wrapTransportError(err)
	}

	// Upstream closed without [DONE]; synthesize the sentinel so the
	// coordinator still completes its scan.
	return handler(providers.StreamChunk{Data: "[DONE]", Done: true})
}

// post sends the (possibly redacted) request body upstream.
func (p *Provider) post(ctx context.Context, req *providers.ChatRequest, cred providers.Credential) (*http.Response, error) {
	body, err := req.Body()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	key := cred.APIKey
	if key == "" {
		key = p.defaultKey
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.wrapTransportError(err)
	}
	return resp, nil
}

// wrapTransportError classifies connection failures and deadline expiry.
func (p *Provider) wrapTransportError(err error) error {
	var urlErr *url.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &urlErr) && urlErr.Timeout())

	if timedOut {
		return &providers.UpstreamError{
			StatusCode: http.StatusGatewayTimeout,
			Timeout:    true,
			Message:    "upstream provider timed out",
			Cause:      err,
		}
	}
	return &providers.UpstreamError{
		StatusCode: http.StatusBadGateway,
		Message:    "cannot reach upstream provider",
		Cause:      err,
	}
}

// extractDelta pulls the content fragment out of a chunk payload.
func extractDelta(data string) string {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return ""
	}
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}
