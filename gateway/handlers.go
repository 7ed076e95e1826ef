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

package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"sentinelgate/gateway/audit"
	"sentinelgate/gateway/pipeline"
	"sentinelgate/gateway/providers"
)

// maxBodySize bounds the request body read (1 MiB).
const maxBodySize = 1 << 20

// handleHealth answers liveness probes. No auth required.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleChatCompletions is the gateway's main entry point.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()
	w.Header().Set("X-Request-Id", requestID)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, requestID, reasonInvalidRequest, http.StatusBadRequest, nil)
		promRequestsTotal.WithLabelValues("400").Inc()
		return
	}

	req, err := providers.ParseChatRequest(body)
	if err != nil {
		writeError(w, requestID, reasonInvalidRequest, http.StatusBadRequest,
			map[string]interface{}{"error": err.Error()})
		promRequestsTotal.WithLabelValues("400").Inc()
		return
	}

	rc := pipeline.NewRequestContext(requestID, r.Header.Get("X-API-Key"), req)

	status := http.StatusOK
	defer func() {
		s.audit.Emit(rc.Record)
		promRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		promRequestDuration.WithLabelValues(requestType(req.Stream)).
			Observe(float64(time.Since(start).Milliseconds()))
		if rc.Record.UpstreamLatencyMS > 0 && rc.Record.Provider != "" {
			promUpstreamLatency.WithLabelValues(rc.Record.Provider).
				Observe(float64(rc.Record.UpstreamLatencyMS))
		}
	}()

	if denial := s.pipeline.Evaluate(r.Context(), rc); denial != nil {
		status = denial.Status()
		rc.Record.Outcome = audit.OutcomeDenied
		promBlockedRequests.WithLabelValues(denial.Stage).Inc()

		s.setRateHeaders(w, rc)
		if denial.Decision.ReasonCode == pipeline.ReasonRateLimited {
			if retryAfter, ok := denial.Decision.Detail["retry_after"].(int); ok {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
		}
		writeError(w, requestID, denial.Decision.ReasonCode, status, denial.Decision.Detail)
		return
	}

	s.setRateHeaders(w, rc)

	if req.Stream {
		status = s.streamCompletion(w, r, rc)
		return
	}
	status = s.completion(w, r, rc)
}

// completion forwards a non-streaming request and writes the scanned
// upstream body.
func (s *Server) completion(w http.ResponseWriter, r *http.Request, rc *pipeline.RequestContext) int {
	resp, err := s.pipeline.Complete(r.Context(), rc)
	if err != nil {
		return s.writeForwardError(w, r, rc, err)
	}

	rc.Record.Outcome = audit.OutcomeAllowed

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
	return resp.StatusCode
}

// streamCompletion forwards a streaming request through the coordinator,
// writing SSE frames as chunks arrive.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, rc *pipeline.RequestContext) int {
	sse := newSSEWriter(w)

	err := s.pipeline.StreamForward(r.Context(), rc, sse)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing more can be written.
			rc.Record.Outcome = audit.OutcomeClientCancelled
			return http.StatusOK
		}
		if !sse.started {
			return s.writeForwardError(w, r, rc, err)
		}
		// Mid-stream upstream failure: the SSE response is already
		// underway, all we can do is stop.
		rc.Record.Outcome = audit.OutcomeUpstreamError
		s.log.Error(rc.Record.ClientID, rc.RequestID, "stream aborted mid-flight", map[string]interface{}{
			"error": err.Error(),
		})
		return http.StatusOK
	}

	rc.Record.Outcome = audit.OutcomeAllowed
	return http.StatusOK
}

// writeForwardError maps forwarding failures to client errors.
func (s *Server) writeForwardError(w http.ResponseWriter, r *http.Request, rc *pipeline.RequestContext, err error) int {
	if r.Context().Err() != nil {
		rc.Record.Outcome = audit.OutcomeClientCancelled
		return http.StatusOK
	}

	var blocked *pipeline.ResponseBlockedError
	if errors.As(err, &blocked) {
		rc.Record.Outcome = audit.OutcomeAllowed
		status := pipeline.StatusForReason(pipeline.ReasonResponseBlocked)
		writeError(w, rc.RequestID, pipeline.ReasonResponseBlocked, status, blocked.Detail)
		return status
	}

	var upstream *providers.UpstreamError
	if errors.As(err, &upstream) {
		rc.Record.Outcome = audit.OutcomeUpstreamError
		reason := pipeline.ReasonUpstreamError
		if upstream.Timeout {
			reason = pipeline.ReasonUpstreamTimeout
		}
		s.log.ErrorWithCode(rc.Record.ClientID, rc.RequestID, "upstream call failed", upstream.StatusCode, err, nil)
		writeError(w, rc.RequestID, reason, upstream.StatusCode, nil)
		return upstream.StatusCode
	}

	rc.Record.Outcome = audit.OutcomeUpstreamError
	s.log.Error(rc.Record.ClientID, rc.RequestID, "forward failed", map[string]interface{}{
		"error": err.Error(),
	})
	writeError(w, rc.RequestID, pipeline.ReasonInternalError, http.StatusInternalServerError, nil)
	return http.StatusInternalServerError
}

// setRateHeaders emits the advisory X-RateLimit-* headers when the rate
// limit stage ran.
func (s *Server) setRateHeaders(w http.ResponseWriter, rc *pipeline.RequestContext) {
	if rc.RateResult == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rc.RateResult.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rc.RateResult.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetSeconds(rc)))
}

func resetSeconds(rc *pipeline.RequestContext) int {
	secs := int(rc.RateResult.Reset.Seconds())
	if secs < 0 {
		secs = 0
	}
	return secs
}

func requestType(stream bool) string {
	if stream {
		return "stream"
	}
	return "completion"
}

// sseWriter frames chunk payloads as server-sent events. Headers go out
// lazily on the first chunk so pre-stream failures can still produce a
// normal JSON error response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

// WriteChunk implements pipeline.ChunkWriter.
func (s *sseWriter) WriteChunk(data string) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
