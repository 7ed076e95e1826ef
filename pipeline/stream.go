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
	"encoding/json"
	"strings"
	"time"

	"sentinelgate/gateway/providers"
)

// ChunkWriter delivers one SSE data payload to the client. WriteChunk
// returning an error (client gone) aborts the upstream stream.
type ChunkWriter interface {
	WriteChunk(data string) error
}

// terminalSentinel is the payload that ends a streaming response.
const terminalSentinel = "[DONE]"

// StreamForward tees upstream chunks to the client while accumulating the
// text deltas. Content flows with no added latency; only the terminal
// sentinel is held back until the response-side scan has run over the
// accumulated text. A blocking scan replaces the sentinel with a single
// response_blocked error event, so the client never sees [DONE] for a
// blocked completion. Deltas already delivered stay delivered; the audit
// record states the scan result.
func (o *Orchestrator) StreamForward(ctx context.Context, rc *RequestContext, writer ChunkWriter) error {
	p, err := o.provider(rc)
	if err != nil {
		return err
	}

	forwardCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var accumulated strings.Builder
	start := time.Now()

	return p.Stream(forwardCtx, rc.Request, rc.Credential(), func(chunk providers.StreamChunk) error {
		if !chunk.Done {
			accumulated.WriteString(chunk.TextDelta)
			return writer.WriteChunk(chunk.Data)
		}

		// Terminal sentinel: hold it, scan, then release or replace.
		rc.Record.UpstreamLatencyMS = time.Since(start).Milliseconds()

		scan := o.scanner.Scan(accumulated.String())
		rc.Record.ResponseScan = scanDetail(scan)

		if scan.Blocked {
			event, err := blockedEvent(rc.RequestID, scan.PII.Types())
			if err != nil {
				return err
			}
			return writer.WriteChunk(event)
		}

		return writer.WriteChunk(terminalSentinel)
	})
}

// blockedEvent builds the error payload emitted in place of [DONE].
func blockedEvent(requestID string, piiTypes []string) (string, error) {
	payload := map[string]interface{}{
		"error": map[string]interface{}{
			"type":       ReasonResponseBlocked,
			"message":    "response blocked by security policy",
			"request_id": requestID,
			"detail":     map[string]interface{}{"pii_types": piiTypes},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
