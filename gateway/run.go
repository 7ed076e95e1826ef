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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinelgate/gateway/audit"
	"sentinelgate/gateway/clients"
	"sentinelgate/gateway/config"
	"sentinelgate/gateway/pipeline"
	"sentinelgate/gateway/providers"
	"sentinelgate/gateway/providers/bedrock"
	"sentinelgate/gateway/providers/openai"
	"sentinelgate/gateway/ratelimit"
	"sentinelgate/gateway/security/injection"
	"sentinelgate/gateway/security/pii"
	"sentinelgate/gateway/security/response"
	"sentinelgate/gateway/shared/logger"
)

// Run wires the gateway from environment configuration and serves until
// SIGINT or SIGTERM.
func Run() error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log := logger.New("main")

	store, err := clients.NewFromSettings(settings)
	if err != nil {
		return fmt.Errorf("client store error: %w", err)
	}

	limiter, err := newLimiter(settings)
	if err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	registry := providers.NewRegistry()
	registry.RegisterFactory("openai", func() (providers.Provider, error) {
		return openai.New(openai.Config{
			BaseURL:       settings.UpstreamBaseURL,
			DefaultAPIKey: settings.UpstreamAPIKey,
			Timeout:       settings.UpstreamTimeout,
		}), nil
	})
	registry.RegisterFactory("bedrock", func() (providers.Provider, error) {
		return bedrock.New(settings.AWSRegion), nil
	})

	stages := []pipeline.Stage{
		pipeline.NewAuthStage(store),
		pipeline.NewRateLimitStage(limiter),
		&pipeline.ModelAllowlistStage{},
		pipeline.NewInjectionStage(injection.NewScorer(settings.InjectionThreshold)),
		pipeline.NewPIIStage(pii.NewScanner(settings.PIIAction)),
		pipeline.NewStreamingGateStage(settings.StreamingEnabled),
	}

	responseScanner := response.NewScanner(settings.InjectionThreshold, settings.ResponsePIIAction)
	orch := pipeline.New(stages, registry, responseScanner, settings.UpstreamTimeout)

	auditSink, err := newAuditSink(settings)
	if err != nil {
		return fmt.Errorf("audit sink error: %w", err)
	}
	auditLogger := audit.NewLogger(auditSink)

	server := NewServer(Config{
		Port:               settings.Port,
		CORSAllowedOrigins: settings.CORSAllowedOrigins,
	}, orch, auditLogger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		auditLogger.Shutdown(5 * time.Second)
		return err
	case sig := <-stop:
		log.Info("", "", "shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("", "", "shutdown error", map[string]interface{}{"error": err.Error()})
	}
	auditLogger.Shutdown(5 * time.Second)
	return nil
}

// newLimiter selects the rate limit backend.
func newLimiter(settings *config.Settings) (ratelimit.Limiter, error) {
	if settings.RateLimitBackend == "redis" {
		if settings.RedisURL == "" {
			return nil, fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_URL")
		}
		return ratelimit.NewRedisLimiter(settings.RedisURL)
	}
	limiter := ratelimit.NewMemoryLimiter()
	limiter.StartJanitor(context.Background(), time.Minute, ratelimit.DefaultIdleTimeout)
	return limiter, nil
}

// newAuditSink builds the audit destination: stdout always, plus an
// optional file and an optional PostgreSQL table.
func newAuditSink(settings *config.Settings) (audit.Sink, error) {
	sinks := audit.MultiSink{audit.NewWriterSink(os.Stdout)}

	if settings.AuditLogFile != "" {
		fileSink, err := audit.NewFileSink(settings.AuditLogFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}

	if settings.AuditDBURL != "" {
		pgSink, err := audit.NewPostgresSink(settings.AuditDBURL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pgSink)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}
