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

package clients

import (
	"context"
	"fmt"
)

// LegacyStore serves the flat comma-separated key list from
// GATEWAY_API_KEYS. Each key maps to a synthetic default client: OpenAI
// provider, global rate limit, no model restrictions.
type LegacyStore struct {
	keys        []string
	defaultRPM  int
	upstreamKey string
}

// NewLegacyStore creates a store over the legacy key list.
func NewLegacyStore(keys []string, defaultRPM int, upstreamKey string) *LegacyStore {
	return &LegacyStore{
		keys:        keys,
		defaultRPM:  defaultRPM,
		upstreamKey: upstreamKey,
	}
}

// Lookup implements Store. All keys are compared on every call.
func (s *LegacyStore) Lookup(_ context.Context, apiKey string) (*Config, error) {
	matched := false
	for _, key := range s.keys {
		if SecureCompare(apiKey, key) {
			matched = true
		}
	}
	if !matched {
		return nil, ErrNotFound
	}

	prefix := apiKey
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	return &Config{
		ClientID:           fmt.Sprintf("legacy-%s", prefix),
		APIKey:             apiKey,
		Provider:           "openai",
		RateLimitRPM:       s.defaultRPM,
		UpstreamCredential: s.upstreamKey,
		Status:             StatusActive,
	}, nil
}
