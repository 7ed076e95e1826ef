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

// Package main is the entry point for the SentinelGate gateway.
//
// The gateway is a security-enforcing reverse proxy that:
// - Accepts requests in the OpenAI /v1/chat/completions shape
// - Runs each request through auth, rate limiting, model allow-listing,
//   prompt injection scoring, and PII detection
// - Forwards accepted requests to OpenAI-compatible or AWS Bedrock upstreams
// - Scans responses (including streams) before the terminal event reaches
//   the client
// - Emits a structured audit record per request
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	GATEWAY_PORT - HTTP server port (default: 8080)
//	GATEWAY_API_KEYS - Comma-separated legacy client keys
//	UPSTREAM_BASE_URL - OpenAI-compatible upstream base URL
//	UPSTREAM_API_KEY - Default upstream credential
//	CLIENT_STORE_BACKEND - "json" or "dynamodb"
//	AUDIT_LOG_FILE - Optional audit sink path
package main

import (
	"fmt"
	"os"

	"sentinelgate/gateway/gateway"
)

func main() {
	if err := gateway.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}
