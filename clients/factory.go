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
	"fmt"
	"os"

	"sentinelgate/gateway/config"
)

// NewFromSettings builds the client store chain for the configured
// backend. The legacy key list is always the last fallback so existing
// GATEWAY_API_KEYS deployments keep working next to a config document.
func NewFromSettings(s *config.Settings) (Store, error) {
	var chain Chain

	switch s.ClientStoreBackend {
	case "json":
		// A missing config file is legacy-only mode, not an error.
		if _, err := os.Stat(s.ClientConfigPath); err == nil {
			store, err := NewJSONStore(s.ClientConfigPath, s.RateLimitRPM)
			if err != nil {
				return nil, err
			}
			chain = append(chain, store)
		}
	case "dynamodb":
		chain = append(chain, NewDynamoDBStore(s.DynamoDBTableName, s.AWSRegion, s.RateLimitRPM))
	default:
		return nil, fmt.Errorf("unknown client store backend: %q", s.ClientStoreBackend)
	}

	chain = append(chain, NewLegacyStore(s.APIKeysList(), s.RateLimitRPM, s.UpstreamAPIKey))
	return chain, nil
}
