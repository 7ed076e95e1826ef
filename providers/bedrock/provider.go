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

// Package bedrock sends requests to AWS Bedrock through the Converse API
// and answers in the OpenAI chat completion shape, so a client cannot tell
// which provider served it. Authentication uses ambient IAM identity via
// AWS Signature V4; the per-client credential's API key is ignored.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"sentinelgate/gateway/providers"
)

// ConverseAPI is the subset of the Bedrock runtime client the provider
// uses (enables testing without AWS credentials).
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Provider implements providers.Provider for AWS Bedrock.
type Provider struct {
	region string

	// The AWS client is created lazily on the first call so deployments
	// that never route to Bedrock do not load AWS configuration.
	initOnce sync.Once
	initErr  error
	client   ConverseAPI

	now func() time.Time
}

// New creates a Bedrock provider for the given region. No AWS calls happen
// until the first request.
func New(region string) *Provider {
	if region == "" {
		region = "us-east-1"
	}
	return &Provider{region: region, now: time.Now}
}

// NewWithClient creates a provider with a pre-built Converse client.
// Used by tests.
func NewWithClient(client ConverseAPI) *Provider {
	p := &Provider{region: "test", now: time.Now}
	p.initOnce.Do(func() { p.client = client })
	return p
}

// Name returns the provider tag.
func (p *Provider) Name() string {
	return "bedrock"
}

// getClient lazily initializes the Bedrock runtime client.
func (p *Provider) getClient(ctx context.Context) (ConverseAPI, error) {
	p.initOnce.Do(func() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
		if err != nil {
			p.initErr = fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", p.region, err)
			return
		}
		p.client = bedrockruntime.NewFromConfig(awsCfg)
	})
	if p.initErr != nil {
		return nil, &providers.UpstreamError{
			StatusCode: http.StatusBadGateway,
			Message:    "Bedrock client initialization failed",
			Cause:      p.initErr,
		}
	}
	return p.client, nil
}

// Complete translates the request to Converse parameters, calls Bedrock,
// and translates the reply back to the OpenAI shape.
func (p *Provider) Complete(ctx context.Context, req *providers.ChatRequest, cred providers.Credential) (*providers.Response, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	input, err := translateRequest(req, cred.BedrockModelID)
	if err != nil {
		return nil, err
	}

	output, err := client.Converse(ctx, input)
	if err != nil {
		return nil, mapBedrockError(err)
	}

	body, err := translateResponse(output, cred.BedrockModelID, p.now().Unix())
	if err != nil {
		return nil, &providers.UpstreamError{
			StatusCode: http.StatusBadGateway,
			Message:    "failed to translate Bedrock response",
			Cause:      err,
		}
	}

	return &providers.Response{StatusCode: http.StatusOK, Body: body}, nil
}

// Stream consumes the Converse event stream and synthesizes canonical
// chunks: contentBlockDelta events become delta chunks, messageStop becomes
// a finish chunk followed by the terminal sentinel.
func (p *Provider) Stream(ctx context.Context, req *providers.ChatRequest, cred providers.Credential, handler providers.StreamHandler) error {
	client, err := p.getClient(ctx)
	if err != nil {
		return err
	}

	input, err := translateRequest(req, cred.BedrockModelID)
	if err != nil {
		return err
	}

	output, err := client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		InferenceConfig: input.InferenceConfig,
	})
	if err != nil {
		return mapBedrockError(err)
	}

	stream := output.GetStream()
	defer func() {
		_ = stream.Close()
	}()

	chunkID := fmt.Sprintf("bedrock-%d", p.now().Unix())

	for event := range stream.Events() {
		switch e := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			text := deltaText(e.Value.Delta)
			data, err := marshalChunk(chunkID, cred.BedrockModelID, text, "")
			if err != nil {
				return err
			}
			if err := handler(providers.StreamChunk{Data: data, TextDelta: text}); err != nil {
				return err
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			data, err := marshalChunk(chunkID, cred.BedrockModelID, "", finishReason(e.Value.StopReason))
			if err != nil {
				return err
			}
			if err := handler(providers.StreamChunk{Data: data}); err != nil {
				return err
			}
			return handler(providers.StreamChunk{Data: "[DONE]", Done: true})
		}
	}

	if err := stream.Err(); err != nil {
		return mapBedrockError(err)
	}

	// Stream ended without messageStop; still terminate the client stream.
	return handler(providers.StreamChunk{Data: "[DONE]", Done: true})
}

// translateRequest converts an OpenAI-shape request into Converse
// parameters. System messages become the system parameter; user and
// assistant turns become Converse messages with text content blocks.
func translateRequest(req *providers.ChatRequest, modelID string) (*bedrockruntime.ConverseInput, error) {
	if modelID == "" {
		return nil, &providers.UpstreamError{
			StatusCode: http.StatusBadRequest,
			Message:    "bedrock_model_id is required for Bedrock clients",
		}
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
	}

	for _, msg := range req.Messages {
		text := msg.Text()
		if msg.Role == "system" {
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: text})
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
		})
	}

	inference := &types.InferenceConfiguration{}
	configured := false

	if raw, ok := req.Param("temperature"); ok {
		var v float32
		if err := json.Unmarshal(raw, &v); err == nil {
			inference.Temperature = aws.Float32(v)
			configured = true
		}
	}
	if raw, ok := req.Param("max_tokens"); ok {
		var v int32
		if err := json.Unmarshal(raw, &v); err == nil {
			inference.MaxTokens = aws.Int32(v)
			configured = true
		}
	}
	if raw, ok := req.Param("top_p"); ok {
		var v float32
		if err := json.Unmarshal(raw, &v); err == nil {
			inference.TopP = aws.Float32(v)
			configured = true
		}
	}
	if raw, ok := req.Param("stop"); ok {
		var v []string
		if err := json.Unmarshal(raw, &v); err == nil && len(v) > 0 {
			inference.StopSequences = v
			configured = true
		}
	}
	if configured {
		input.InferenceConfig = inference
	}

	return input, nil
}

// translateResponse converts a Converse reply to an OpenAI-shape body.
func translateResponse(output *bedrockruntime.ConverseOutput, modelID string, created int64) ([]byte, error) {
	var text string
	if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*types.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	}

	var promptTokens, completionTokens int32
	if output.Usage != nil {
		promptTokens = aws.ToInt32(output.Usage.InputTokens)
		completionTokens = aws.ToInt32(output.Usage.OutputTokens)
	}

	body := map[string]interface{}{
		"id":      fmt.Sprintf("bedrock-%d", created),
		"object":  "chat.completion",
		"created": created,
		"model":   modelID,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       map[string]interface{}{"role": "assistant", "content": text},
			"finish_reason": finishReason(output.StopReason),
		}},
		"usage": map[string]interface{}{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}

	return json.Marshal(body)
}

// marshalChunk builds one OpenAI-shape streaming chunk payload.
func marshalChunk(chunkID, modelID, textDelta, finish string) (string, error) {
	delta := map[string]interface{}{}
	if textDelta != "" {
		delta["content"] = textDelta
	}
	var finishValue interface{}
	if finish != "" {
		finishValue = finish
	}

	chunk := map[string]interface{}{
		"id":     chunkID,
		"object": "chat.completion.chunk",
		"model":  modelID,
		"choices": []map[string]interface{}{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishValue,
		}},
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// deltaText extracts the text fragment of a content block delta.
func deltaText(delta types.ContentBlockDelta) string {
	if td, ok := delta.(*types.ContentBlockDeltaMemberText); ok {
		return td.Value
	}
	return ""
}

// finishReason maps a Converse stop reason to the OpenAI finish reason.
func finishReason(reason types.StopReason) string {
	if reason == types.StopReasonMaxTokens {
		return "length"
	}
	return "stop"
}

// mapBedrockError maps SDK errors to upstream errors with the closest
// client-facing status.
func mapBedrockError(err error) error {
	var upstream *providers.UpstreamError
	if errors.As(err, &upstream) {
		return upstream
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &providers.UpstreamError{
			StatusCode: http.StatusGatewayTimeout,
			Timeout:    true,
			Message:    "Bedrock request timed out",
			Cause:      err,
		}
	}

	status := http.StatusBadGateway
	message := "Bedrock error"

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException":
			status = http.StatusTooManyRequests
			message = "Bedrock rate limit exceeded"
		case "ValidationException":
			status = http.StatusBadRequest
			message = "Bedrock validation error"
		case "ModelNotReadyException":
			status = http.StatusServiceUnavailable
			message = "Bedrock model not ready"
		case "AccessDeniedException":
			status = http.StatusForbidden
			message = "Bedrock access denied - check IAM permissions"
		}
	}

	return &providers.UpstreamError{
		StatusCode: status,
		Message:    message,
		Cause:      err,
	}
}
