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

// Package clients resolves per-client gateway configuration by API key.
//
// Three backends share one contract: a JSON config document with mtime
// hot-reload, the legacy flat GATEWAY_API_KEYS list, and a DynamoDB table
// with a GSI on api_key. Key comparison is constant-time on the compare
// path regardless of backend.
package clients
