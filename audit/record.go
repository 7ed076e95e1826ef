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

package audit

import "time"

// Outcome values for a completed request.
const (
	OutcomeAllowed         = "allowed"
	OutcomeDenied          = "denied"
	OutcomeUpstreamError   = "upstream_error"
	OutcomeClientCancelled = "client_cancelled"
)

// StageDecision is one pipeline stage's contribution to the audit record.
// Every stage that ran appears, allowed or not.
type StageDecision struct {
	Name       string                 `json:"name"`
	Allow      bool                   `json:"allow"`
	ReasonCode string                 `json:"reason_code,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
}

// Record is the audit trail for one request. The orchestrator owns it for
// the request's lifetime and emits it exactly once, even when a stage
// denied early or the client disconnected.
type Record struct {
	RequestID         string                 `json:"request_id"`
	Timestamp         time.Time              `json:"timestamp_iso"`
	ClientID          string                 `json:"client_id"`
	Model             string                 `json:"model"`
	Provider          string                 `json:"provider"`
	Stream            bool                   `json:"stream"`
	Stages            []StageDecision        `json:"stages"`
	UpstreamLatencyMS int64                  `json:"upstream_latency_ms"`
	ResponseScan      map[string]interface{} `json:"response_scan,omitempty"`
	Outcome           string                 `json:"outcome"`
}

// NewRecord starts a record for a request.
func NewRecord(requestID string) *Record {
	return &Record{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Stages:    []StageDecision{},
	}
}

// AddStage appends a stage decision.
func (r *Record) AddStage(d StageDecision) {
	r.Stages = append(r.Stages, d)
}

// DeniedAt returns the name of the first denying stage, or "".
func (r *Record) DeniedAt() string {
	for _, s := range r.Stages {
		if !s.Allow {
			return s.Name
		}
	}
	return ""
}
