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
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// apiKeyIndex is the GSI on the clients table keyed by api_key.
const apiKeyIndex = "api_key_index"

// cacheTTL bounds how long a looked-up config is reused without
// re-querying the table.
const cacheTTL = 5 * time.Minute

// QueryAPI is the subset of the DynamoDB client the store uses
// (enables testing without AWS credentials).
type QueryAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBStore looks up client config from a DynamoDB table with a GSI on
// api_key. Positive results are cached in memory for cacheTTL; misses are
// not cached so newly provisioned clients work immediately.
type DynamoDBStore struct {
	table      string
	region     string
	defaultRPM int

	initOnce sync.Once
	initErr  error
	client   QueryAPI

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	config    *Config
	expiresAt time.Time
}

// dynamoRecord mirrors the table item shape.
type dynamoRecord struct {
	ClientID           string   `dynamodbav:"client_id"`
	APIKey             string   `dynamodbav:"api_key"`
	Provider           string   `dynamodbav:"provider"`
	RateLimitRPM       int      `dynamodbav:"rate_limit_rpm"`
	AllowedModels      []string `dynamodbav:"allowed_models"`
	UpstreamCredential string   `dynamodbav:"upstream_credential"`
	BedrockModelID     string   `dynamodbav:"bedrock_model_id"`
	Status             string   `dynamodbav:"status"`
}

// NewDynamoDBStore creates a DynamoDB-backed store. The AWS client is
// created lazily on the first lookup.
func NewDynamoDBStore(table, region string, defaultRPM int) *DynamoDBStore {
	return &DynamoDBStore{
		table:      table,
		region:     region,
		defaultRPM: defaultRPM,
		cache:      make(map[string]cacheEntry),
		now:        time.Now,
	}
}

// NewDynamoDBStoreWithClient creates a store with a pre-built client.
// Used by tests.
func NewDynamoDBStoreWithClient(client QueryAPI, table string, defaultRPM int) *DynamoDBStore {
	s := &DynamoDBStore{
		table:      table,
		defaultRPM: defaultRPM,
		cache:      make(map[string]cacheEntry),
		now:        time.Now,
	}
	s.initOnce.Do(func() { s.client = client })
	return s
}

// getClient lazily initializes the DynamoDB client.
func (s *DynamoDBStore) getClient(ctx context.Context) (QueryAPI, error) {
	s.initOnce.Do(func() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.region))
		if err != nil {
			s.initErr = fmt.Errorf("failed to load AWS config for DynamoDB (region: %s): %w", s.region, err)
			return
		}
		s.client = dynamodb.NewFromConfig(awsCfg)
	})
	if s.initErr != nil {
		return nil, s.initErr
	}
	return s.client, nil
}

// Lookup implements Store.
func (s *DynamoDBStore) Lookup(ctx context.Context, apiKey string) (*Config, error) {
	if cfg, ok := s.cached(apiKey); ok {
		return cfg, nil
	}

	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(apiKeyIndex),
		KeyConditionExpression: aws.String("api_key = :key"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":key": &types.AttributeValueMemberS{Value: apiKey},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb query failed: %w", err)
	}

	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}

	var record dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client record: %w", err)
	}

	cfg := &Config{
		ClientID:           record.ClientID,
		APIKey:             record.APIKey,
		Provider:           record.Provider,
		RateLimitRPM:       record.RateLimitRPM,
		AllowedModels:      record.AllowedModels,
		UpstreamCredential: record.UpstreamCredential,
		BedrockModelID:     record.BedrockModelID,
		Status:             record.Status,
	}
	cfg.applyDefaults(s.defaultRPM)

	s.mu.Lock()
	s.cache[apiKey] = cacheEntry{config: cfg, expiresAt: s.now().Add(cacheTTL)}
	s.mu.Unlock()

	return cfg, nil
}

// cached returns an unexpired cache entry.
func (s *DynamoDBStore) cached(apiKey string) (*Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[apiKey]
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.cache, apiKey)
		return nil, false
	}
	return entry.config, true
}
