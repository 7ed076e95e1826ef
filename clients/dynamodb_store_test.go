package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeDynamo struct {
	items   []map[string]types.AttributeValue
	err     error
	queries int
}

func (f *fakeDynamo) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.QueryOutput{Items: f.items}, nil
}

func dynamoItem() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"client_id":           &types.AttributeValueMemberS{Value: "acme"},
		"api_key":             &types.AttributeValueMemberS{Value: "key-aaa-111"},
		"provider":            &types.AttributeValueMemberS{Value: "bedrock"},
		"rate_limit_rpm":      &types.AttributeValueMemberN{Value: "25"},
		"allowed_models":      &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: "gpt-4o-mini"}}},
		"upstream_credential": &types.AttributeValueMemberS{Value: "sk-up"},
		"bedrock_model_id":    &types.AttributeValueMemberS{Value: "anthropic.claude-3-sonnet-20240229-v1:0"},
		"status":              &types.AttributeValueMemberS{Value: "active"},
	}
}

func TestDynamoDBStore_Lookup(t *testing.T) {
	fake := &fakeDynamo{items: []map[string]types.AttributeValue{dynamoItem()}}
	store := NewDynamoDBStoreWithClient(fake, "clients", 60)

	cfg, err := store.Lookup(context.Background(), "key-aaa-111")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if cfg.ClientID != "acme" || cfg.Provider != "bedrock" || cfg.RateLimitRPM != 25 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.BedrockModelID == "" {
		t.Error("BedrockModelID not decoded")
	}
}

func TestDynamoDBStore_CachesHits(t *testing.T) {
	fake := &fakeDynamo{items: []map[string]types.AttributeValue{dynamoItem()}}
	store := NewDynamoDBStoreWithClient(fake, "clients", 60)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Lookup(ctx, "key-aaa-111"); err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
	}
	if fake.queries != 1 {
		t.Errorf("queries = %d, want 1 (subsequent lookups cached)", fake.queries)
	}
}

func TestDynamoDBStore_CacheExpires(t *testing.T) {
	fake := &fakeDynamo{items: []map[string]types.AttributeValue{dynamoItem()}}
	store := NewDynamoDBStoreWithClient(fake, "clients", 60)
	ctx := context.Background()

	current := time.Now()
	store.now = func() time.Time { return current }

	if _, err := store.Lookup(ctx, "key-aaa-111"); err != nil {
		t.Fatal(err)
	}
	current = current.Add(cacheTTL + time.Second)
	if _, err := store.Lookup(ctx, "key-aaa-111"); err != nil {
		t.Fatal(err)
	}
	if fake.queries != 2 {
		t.Errorf("queries = %d, want 2 after TTL expiry", fake.queries)
	}
}

func TestDynamoDBStore_MissesNotCached(t *testing.T) {
	fake := &fakeDynamo{}
	store := NewDynamoDBStoreWithClient(fake, "clients", 60)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Lookup(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Lookup() error = %v, want ErrNotFound", err)
		}
	}
	if fake.queries != 2 {
		t.Errorf("queries = %d, want 2 (misses must not be cached)", fake.queries)
	}
}

func TestDynamoDBStore_BackendError(t *testing.T) {
	fake := &fakeDynamo{err: errors.New("throttled")}
	store := NewDynamoDBStoreWithClient(fake, "clients", 60)

	_, err := store.Lookup(context.Background(), "key-aaa-111")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() error = %v, want backend error distinct from ErrNotFound", err)
	}
}
