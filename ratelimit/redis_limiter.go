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

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"sentinelgate/gateway/shared/logger"
)

// RedisLimiter keeps the sliding window in a Redis ZSET per client, so the
// limit holds across gateway replicas and function invocations. On Redis
// errors it fails open: availability of the gateway is preferred over
// strict limiting.
type RedisLimiter struct {
	client *redis.Client
	log    *logger.Logger

	now func() time.Time
}

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(redisURL string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLimiter{
		client: client,
		log:    logger.New("ratelimit"),
		now:    time.Now,
	}, nil
}

// NewRedisLimiterWithClient wraps an existing client. Used by tests.
func NewRedisLimiterWithClient(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		log:    logger.New("ratelimit"),
		now:    time.Now,
	}
}

// Check implements Limiter.
func (l *RedisLimiter) Check(ctx context.Context, clientID string, limit int) Result {
	now := l.now()
	key := fmt.Sprintf("ratelimit:%s", clientID)
	windowStart := now.Add(-Window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen(clientID, limit, err)
	}

	count := int(countCmd.Val())

	if count >= limit {
		reset := Window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			reset = oldestAt.Add(Window).Sub(now)
		}
		return Result{Allowed: false, Limit: limit, Remaining: 0, Reset: reset}
	}

	// Record this request. Member uniqueness comes from nanosecond
	// precision; a duplicate in the same nanosecond undercounts by one,
	// which is acceptable for an advisory window.
	add := l.client.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	if err := add.Err(); err != nil {
		return l.failOpen(clientID, limit, err)
	}
	l.client.Expire(ctx, key, 2*Window)

	reset := Window
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		oldestAt := time.Unix(0, int64(oldest[0].Score))
		reset = oldestAt.Add(Window).Sub(now)
	}

	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count - 1,
		Reset:     reset,
	}
}

// failOpen allows the request when Redis is unreachable.
func (l *RedisLimiter) failOpen(clientID string, limit int, err error) Result {
	l.log.Warn(clientID, "", "Redis rate limit check failed, failing open", map[string]interface{}{
		"error": err.Error(),
	})
	return Result{Allowed: true, Limit: limit, Remaining: limit - 1, Reset: Window}
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
