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
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one chat message. The full original JSON object is retained so
// fields the gateway does not interpret (name, tool_call_id, ...) survive
// the round trip to the upstream.
type Message struct {
	Role string

	raw map[string]json.RawMessage
}

// Text extracts the textual content of the message. String contents are
// returned as-is; array contents (multi-part) contribute their text parts
// concatenated with newlines. Non-text parts are ignored.
func (m *Message) Text() string {
	rawContent, ok := m.raw["content"]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(rawContent, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(rawContent, &parts); err != nil {
		return ""
	}

	var texts []string
	for _, p := range parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// SetText replaces the message content with a plain string.
func (m *Message) SetText(text string) {
	encoded, _ := json.Marshal(text)
	m.raw["content"] = encoded
}

// MarshalJSON emits the retained original object, including any content
// replacement applied through SetText.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.raw)
}

// ChatRequest is the canonical OpenAI-shape chat completion request.
// Interpreted fields are parsed out; everything else is preserved opaquely
// and re-emitted when the request is forwarded.
type ChatRequest struct {
	Model    string
	Stream   bool
	Messages []*Message

	raw map[string]json.RawMessage
}

// ParseChatRequest decodes an OpenAI-shape request body.
func ParseChatRequest(data []byte) (*ChatRequest, error) {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	req := &ChatRequest{raw: raw}

	if rawModel, ok := raw["model"]; ok {
		if err := json.Unmarshal(rawModel, &req.Model); err != nil {
			return nil, fmt.Errorf("invalid model field: %w", err)
		}
	}

	if rawStream, ok := raw["stream"]; ok {
		if err := json.Unmarshal(rawStream, &req.Stream); err != nil {
			return nil, fmt.Errorf("invalid stream field: %w", err)
		}
	}

	var rawMessages []json.RawMessage
	if rawList, ok := raw["messages"]; ok {
		if err := json.Unmarshal(rawList, &rawMessages); err != nil {
			return nil, fmt.Errorf("invalid messages field: %w", err)
		}
	}
	if len(rawMessages) == 0 {
		return nil, fmt.Errorf("messages must be a non-empty array")
	}

	for i, rm := range rawMessages {
		fields := make(map[string]json.RawMessage)
		if err := json.Unmarshal(rm, &fields); err != nil {
			return nil, fmt.Errorf("invalid message at index %d: %w", i, err)
		}
		msg := &Message{raw: fields}
		if rawRole, ok := fields["role"]; ok {
			if err := json.Unmarshal(rawRole, &msg.Role); err != nil {
				return nil, fmt.Errorf("invalid role at index %d: %w", i, err)
			}
		}
		req.Messages = append(req.Messages, msg)
	}

	return req, nil
}

// UserText concatenates the text of all user and tool messages with
// newlines. System and assistant turns are excluded: they are not
// user-provided input.
func (r *ChatRequest) UserText() string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == "user" || m.Role == "tool" {
			parts = append(parts, m.Text())
		}
	}
	return strings.Join(parts, "\n")
}

// ReplaceLastUserContent swaps the content of the last user message.
// Used by request-side redaction.
func (r *ChatRequest) ReplaceLastUserContent(text string) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			r.Messages[i].SetText(text)
			return
		}
	}
}

// Param returns an uninterpreted top-level request field.
func (r *ChatRequest) Param(name string) (json.RawMessage, bool) {
	v, ok := r.raw[name]
	return v, ok
}

// Body re-serializes the request, reflecting any message mutations.
func (r *ChatRequest) Body() ([]byte, error) {
	encodedMessages, err := json.Marshal(r.Messages)
	if err != nil {
		return nil, err
	}
	r.raw["messages"] = encodedMessages
	return json.Marshal(r.raw)
}

// Response is a non-streaming upstream reply. The body is kept verbatim so
// the client sees exactly what the upstream produced (unless response-side
// redaction rewrites choice contents).
type Response struct {
	StatusCode int
	Body       []byte
}

type responseEnvelope struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Content concatenates the message content of every choice, for scanning.
func (r *Response) Content() string {
	var env responseEnvelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return ""
	}
	var parts []string
	for _, c := range env.Choices {
		if c.Message.Content != "" {
			parts = append(parts, c.Message.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// RedactContents applies fn to each choice's message content and rebuilds
// the body. Fields outside choices[].message.content are left untouched.
func (r *Response) RedactContents(fn func(string) string) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(r.Body, &raw); err != nil {
		return err
	}

	var choices []map[string]json.RawMessage
	if err := json.Unmarshal(raw["choices"], &choices); err != nil {
		return err
	}

	for _, choice := range choices {
		msgRaw, ok := choice["message"]
		if !ok {
			continue
		}
		msg := make(map[string]json.RawMessage)
		if err := json.Unmarshal(msgRaw, &msg); err != nil {
			return err
		}
		var content string
		if err := json.Unmarshal(msg["content"], &content); err != nil {
			continue
		}
		encoded, err := json.Marshal(fn(content))
		if err != nil {
			return err
		}
		msg["content"] = encoded
		rebuilt, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		choice["message"] = rebuilt
	}

	encodedChoices, err := json.Marshal(choices)
	if err != nil {
		return err
	}
	raw["choices"] = encodedChoices

	body, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	r.Body = body
	return nil
}

// StreamChunk is one streaming event in the canonical wire shape.
type StreamChunk struct {
	// Data is the raw SSE payload: a JSON chunk object or the literal
	// "[DONE]" terminal sentinel.
	Data string

	// Done marks the terminal sentinel.
	Done bool

	// TextDelta is the extracted content fragment, empty for role markers,
	// finish chunks, and the sentinel.
	TextDelta string
}
