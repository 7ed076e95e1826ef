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
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// JSONStore serves client configs from a JSON file. The file is re-read
// when its mtime changes, so edits take effect without a restart.
type JSONStore struct {
	path       string
	defaultRPM int

	mu        sync.Mutex
	clients   []*Config
	lastMtime time.Time
}

type clientsDocument struct {
	Clients []*Config `json:"clients"`
}

// NewJSONStore creates a file-backed store. The file must exist and parse
// at startup; later read failures keep serving the last good snapshot.
func NewJSONStore(path string, defaultRPM int) (*JSONStore, error) {
	s := &JSONStore{path: path, defaultRPM: defaultRPM}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load client config %s: %w", path, err)
	}
	return s, nil
}

// load reads the file if its mtime changed since the last load.
func (s *JSONStore) load() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}

	if info.ModTime().Equal(s.lastMtime) && s.clients != nil {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var doc clientsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid client config JSON: %w", err)
	}

	for _, c := range doc.Clients {
		c.applyDefaults(s.defaultRPM)
	}

	s.clients = doc.Clients
	s.lastMtime = info.ModTime()
	return nil
}

// Lookup implements Store. Every configured key is compared on every call
// so lookup time does not depend on which key (if any) matched.
func (s *JSONStore) Lookup(_ context.Context, apiKey string) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		// Keep serving the previous snapshot; a missing file at this point
		// is a deployment race, not a reason to fail requests.
		if s.clients == nil {
			return nil, err
		}
	}

	var match *Config
	for _, c := range s.clients {
		if SecureCompare(apiKey, c.APIKey) {
			match = c
		}
	}
	if match == nil {
		return nil, ErrNotFound
	}
	return match, nil
}
