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
	"encoding/json"
	"net/http"

	"sentinelgate/gateway/pipeline"
)

// reasonInvalidRequest covers unparseable request bodies; it is a binding
// concern, not a pipeline stage.
const reasonInvalidRequest = "invalid_request"

// errorMessages are the client-facing texts per reason code. Internal
// detail never reaches the client.
var errorMessages = map[string]string{
	pipeline.ReasonUnauthenticated:      "Missing or invalid API key",
	pipeline.ReasonClientSuspended:      "Client is suspended",
	pipeline.ReasonStoreUnavailable:     "Client store unavailable, try again later",
	pipeline.ReasonRateLimited:          "Rate limit exceeded",
	pipeline.ReasonModelNotAllowed:      "Requested model is not allowed for this client",
	pipeline.ReasonInjectionBlocked:     "Request blocked by prompt injection policy",
	pipeline.ReasonPIIBlocked:           "Request blocked by PII policy",
	pipeline.ReasonStreamingUnsupported: "Streaming is not supported on this deployment",
	pipeline.ReasonUpstreamError:        "Upstream provider error",
	pipeline.ReasonUpstreamTimeout:      "Upstream provider timed out",
	pipeline.ReasonResponseBlocked:      "Response blocked by security policy",
	pipeline.ReasonInternalError:        "Internal error",
	reasonInvalidRequest:                "Invalid request body",
}

// errorBody is the JSON error envelope returned on every failure.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// writeError sends the error envelope with the status for the reason.
func writeError(w http.ResponseWriter, requestID, reason string, status int, detail map[string]interface{}) {
	message, ok := errorMessages[reason]
	if !ok {
		message = "Internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Type:      reason,
		Message:   message,
		RequestID: requestID,
		Detail:    detail,
	}})
}
