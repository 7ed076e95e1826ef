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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PIIAction selects how detected PII is handled at a pipeline position.
type PIIAction string

const (
	PIIActionRedact  PIIAction = "redact"
	PIIActionBlock   PIIAction = "block"
	PIIActionLogOnly PIIAction = "log_only"
)

// IsValid checks if the action is a known PII action.
func (a PIIAction) IsValid() bool {
	switch a {
	case PIIActionRedact, PIIActionBlock, PIIActionLogOnly:
		return true
	default:
		return false
	}
}

// Settings holds the gateway configuration. Values come from an optional
// YAML file (GATEWAY_CONFIG_FILE) overridden by environment variables.
type Settings struct {
	// Server
	Port               string `yaml:"port"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`

	// Gateway authentication (legacy comma-separated keys)
	GatewayAPIKeys string `yaml:"gateway_api_keys"`

	// Upstream LLM provider
	UpstreamBaseURL string `yaml:"upstream_base_url"`
	UpstreamAPIKey  string `yaml:"upstream_api_key"`
	UpstreamTimeout time.Duration `yaml:"-"`

	// Security pipeline
	InjectionThreshold float64   `yaml:"injection_threshold"`
	PIIAction          PIIAction `yaml:"pii_action"`
	ResponsePIIAction  PIIAction `yaml:"response_pii_action"`
	RateLimitRPM       int       `yaml:"rate_limit_rpm"`
	StreamingEnabled   bool      `yaml:"streaming_enabled"`

	// Rate limit backend
	RateLimitBackend string `yaml:"rate_limit_backend"` // "memory" | "redis"
	RedisURL         string `yaml:"redis_url"`

	// Client store
	ClientStoreBackend string `yaml:"client_store_backend"` // "json" | "dynamodb"
	ClientConfigPath   string `yaml:"client_config_path"`
	DynamoDBTableName  string `yaml:"dynamodb_table_name"`
	AWSRegion          string `yaml:"aws_region"`

	// Logging
	LogLevel     string `yaml:"log_level"`
	AuditLogFile string `yaml:"audit_log_file"`
	AuditDBURL   string `yaml:"audit_db_url"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() *Settings {
	return &Settings{
		Port:               "8080",
		CORSAllowedOrigins: "*",
		GatewayAPIKeys:     "dev-key-1",
		UpstreamBaseURL:    "https://api.openai.com",
		UpstreamAPIKey:     "",
		UpstreamTimeout:    60 * time.Second,
		InjectionThreshold: 0.7,
		PIIAction:          PIIActionRedact,
		ResponsePIIAction:  PIIActionLogOnly,
		RateLimitRPM:       60,
		StreamingEnabled:   true,
		RateLimitBackend:   "memory",
		RedisURL:           "",
		ClientStoreBackend: "json",
		ClientConfigPath:   "clients.json",
		DynamoDBTableName:  "llm-gateway-clients",
		AWSRegion:          "us-east-1",
		LogLevel:           "INFO",
		AuditLogFile:       "",
		AuditDBURL:         "",
	}
}

// Load builds the settings: defaults, then the optional YAML file named by
// GATEWAY_CONFIG_FILE, then environment variables.
func Load() (*Settings, error) {
	s := Defaults()

	if path := os.Getenv("GATEWAY_CONFIG_FILE"); path != "" {
		if err := s.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	s.applyEnv()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadFile overlays values from a YAML settings file.
func (s *Settings) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	return nil
}

// applyEnv overrides settings from environment variables.
func (s *Settings) applyEnv() {
	s.Port = getEnv("GATEWAY_PORT", s.Port)
	s.CORSAllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", s.CORSAllowedOrigins)
	s.GatewayAPIKeys = getEnv("GATEWAY_API_KEYS", s.GatewayAPIKeys)
	s.UpstreamBaseURL = getEnv("UPSTREAM_BASE_URL", s.UpstreamBaseURL)
	s.UpstreamAPIKey = getEnv("UPSTREAM_API_KEY", s.UpstreamAPIKey)
	s.InjectionThreshold = getEnvFloat("INJECTION_THRESHOLD", s.InjectionThreshold)
	s.PIIAction = PIIAction(getEnv("PII_ACTION", string(s.PIIAction)))
	s.ResponsePIIAction = PIIAction(getEnv("RESPONSE_PII_ACTION", string(s.ResponsePIIAction)))
	s.RateLimitRPM = getEnvInt("RATE_LIMIT_RPM", s.RateLimitRPM)
	s.StreamingEnabled = getEnvBool("STREAMING_ENABLED", s.StreamingEnabled)
	s.RateLimitBackend = getEnv("RATE_LIMIT_BACKEND", s.RateLimitBackend)
	s.RedisURL = getEnv("REDIS_URL", s.RedisURL)
	s.ClientStoreBackend = getEnv("CLIENT_STORE_BACKEND", s.ClientStoreBackend)
	s.ClientConfigPath = getEnv("CLIENT_CONFIG_PATH", s.ClientConfigPath)
	s.DynamoDBTableName = getEnv("DYNAMODB_TABLE_NAME", s.DynamoDBTableName)
	s.AWSRegion = getEnv("AWS_REGION", s.AWSRegion)
	s.LogLevel = getEnv("LOG_LEVEL", s.LogLevel)
	s.AuditLogFile = getEnv("AUDIT_LOG_FILE", s.AuditLogFile)
	s.AuditDBURL = getEnv("AUDIT_DB_URL", s.AuditDBURL)

	if secs := getEnvInt("UPSTREAM_TIMEOUT_SECONDS", int(s.UpstreamTimeout/time.Second)); secs > 0 {
		s.UpstreamTimeout = time.Duration(secs) * time.Second
	}
}

// Validate rejects settings a running gateway cannot honor.
func (s *Settings) Validate() error {
	if !s.PIIAction.IsValid() {
		return fmt.Errorf("invalid PII_ACTION: %q (want redact, block, or log_only)", s.PIIAction)
	}
	if !s.ResponsePIIAction.IsValid() {
		return fmt.Errorf("invalid RESPONSE_PII_ACTION: %q (want redact, block, or log_only)", s.ResponsePIIAction)
	}
	if s.InjectionThreshold < 0 {
		return fmt.Errorf("INJECTION_THRESHOLD must be >= 0, got %v", s.InjectionThreshold)
	}
	if s.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive, got %d", s.RateLimitRPM)
	}
	switch s.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND: %q (want memory or redis)", s.RateLimitBackend)
	}
	switch s.ClientStoreBackend {
	case "json", "dynamodb":
	default:
		return fmt.Errorf("invalid CLIENT_STORE_BACKEND: %q (want json or dynamodb)", s.ClientStoreBackend)
	}
	return nil
}

// APIKeysList parses the comma-separated legacy gateway keys.
func (s *Settings) APIKeysList() []string {
	var keys []string
	for _, k := range strings.Split(s.GatewayAPIKeys, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}
