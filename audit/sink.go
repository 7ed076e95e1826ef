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

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Sink persists audit records. Implementations must serialize their own
// writes; the logger worker calls Write from a single goroutine but
// multiple sinks may share an underlying destination.
type Sink interface {
	Write(record *Record) error
	Close() error
}

// WriterSink emits one JSON object per line to an io.Writer.
type WriterSink struct {
	mu  sync.Mutex
	out io.Writer

	// closer is set when the sink owns the destination (a file).
	closer io.Closer
}

// NewWriterSink wraps a writer the caller owns (e.g. os.Stdout).
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{out: w}
}

// NewFileSink opens (or creates) an append-only audit file.
func NewFileSink(path string) (*WriterSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &WriterSink{out: f, closer: f}, nil
}

// Write implements Sink.
func (s *WriterSink) Write(record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.out.Write(append(data, '\n'))
	return err
}

// Close implements Sink.
func (s *WriterSink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// PostgresSink writes audit records to a PostgreSQL table, one row per
// record with the stage decisions and response scan as JSONB columns.
type PostgresSink struct {
	db *sql.DB
}

const createAuditTable = `
CREATE TABLE IF NOT EXISTS gateway_audit (
	id BIGSERIAL PRIMARY KEY,
	request_id VARCHAR(64) NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	client_id VARCHAR(255),
	model VARCHAR(255),
	provider VARCHAR(32),
	stream BOOLEAN NOT NULL DEFAULT FALSE,
	stages JSONB,
	upstream_latency_ms BIGINT,
	response_scan JSONB,
	outcome VARCHAR(32) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gateway_audit_request_id ON gateway_audit(request_id);
CREATE INDEX IF NOT EXISTS idx_gateway_audit_client_ts ON gateway_audit(client_id, ts);
`

// NewPostgresSink connects to the audit database and ensures the table
// exists.
func NewPostgresSink(databaseURL string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if _, err := db.Exec(createAuditTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// NewPostgresSinkWithDB wraps an existing connection. Used by tests.
func NewPostgresSinkWithDB(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Write implements Sink.
func (s *PostgresSink) Write(record *Record) error {
	stages, err := json.Marshal(record.Stages)
	if err != nil {
		return err
	}
	var responseScan []byte
	if record.ResponseScan != nil {
		responseScan, err = json.Marshal(record.ResponseScan)
		if err != nil {
			return err
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO gateway_audit
			(request_id, ts, client_id, model, provider, stream, stages, upstream_latency_ms, response_scan, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.RequestID,
		record.Timestamp,
		record.ClientID,
		record.Model,
		record.Provider,
		record.Stream,
		stages,
		record.UpstreamLatencyMS,
		responseScan,
		record.Outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// MultiSink fans a record out to several sinks. A failing sink does not
// stop the others; the first error is returned.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(record *Record) error {
	var firstErr error
	for _, s := range m {
		if err := s.Write(record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close implements Sink.
func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
