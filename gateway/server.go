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

// Package gateway is the HTTP binding: routing, SSE framing, error
// envelopes, advisory headers, and metrics. Security decisions live in
// the pipeline package; this layer only translates them to the wire.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"sentinelgate/gateway/audit"
	"sentinelgate/gateway/pipeline"
	"sentinelgate/gateway/shared/logger"
)

// Server binds the pipeline to HTTP.
type Server struct {
	pipeline *pipeline.Orchestrator
	audit    *audit.Logger
	log      *logger.Logger

	httpServer *http.Server
}

// Config is the binding configuration.
type Config struct {
	Port               string
	CORSAllowedOrigins string
}

// NewServer assembles the router and HTTP server.
func NewServer(cfg Config, orch *pipeline.Orchestrator, auditLogger *audit.Logger) *Server {
	s := &Server{
		pipeline: orch,
		audit:    auditLogger,
		log:      logger.New("gateway"),
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
	})

	s.httpServer = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: corsHandler.Handler(s.Router()),
		// No WriteTimeout: streaming responses are open-ended; the
		// upstream deadline bounds each request instead.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/v1/chat/completions", s.handleChatCompletions).Methods(http.MethodPost)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/prometheus", promhttp.Handler()).Methods(http.MethodGet)
	return router
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info("", "", "gateway listening", map[string]interface{}{"addr": s.httpServer.Addr})
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func splitOrigins(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}
