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

// Package audit emits one structured record per gateway request. Records
// are queued and written by a background worker so the sink never
// back-pressures request handling.
package audit

import (
	"sync"
	"time"

	"sentinelgate/gateway/shared/logger"
)

const queueSize = 10000

// Logger queues records and writes them asynchronously to its sink.
type Logger struct {
	sink  Sink
	queue chan *Record
	log   *logger.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewLogger starts the background writer for the given sink.
func NewLogger(sink Sink) *Logger {
	l := &Logger{
		sink:  sink,
		queue: make(chan *Record, queueSize),
		log:   logger.New("audit"),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.worker()
	return l
}

// Emit queues a record for writing. When the queue is full the record is
// dropped with a warning rather than blocking the request path.
func (l *Logger) Emit(record *Record) {
	select {
	case l.queue <- record:
	default:
		l.log.Warn(record.ClientID, record.RequestID, "audit queue full, dropping record", nil)
	}
}

// worker drains the queue until Shutdown.
func (l *Logger) worker() {
	defer l.wg.Done()
	for {
		select {
		case record := <-l.queue:
			l.write(record)
		case <-l.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case record := <-l.queue:
					l.write(record)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(record *Record) {
	if err := l.sink.Write(record); err != nil {
		l.log.Error(record.ClientID, record.RequestID, "failed to write audit record", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Shutdown stops the worker, drains queued records, and closes the sink.
// It waits at most the given timeout for the drain.
func (l *Logger) Shutdown(timeout time.Duration) {
	l.closeOnce.Do(func() {
		close(l.done)

		finished := make(chan struct{})
		go func() {
			l.wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
		case <-time.After(timeout):
			l.log.Warn("", "", "audit shutdown timed out with records still queued", nil)
		}

		if err := l.sink.Close(); err != nil {
			l.log.Error("", "", "failed to close audit sink", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})
}
