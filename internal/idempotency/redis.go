package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

type redisRecord struct {
	Fingerprint string `json:"fingerprint"`
	Done        bool   `json:"done"`
	StatusCode  int    `json:"status_code,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// RedisStore is the production ledger backend. The claim step relies on
// SETNX so exactly one of N racing requests with the same key wins.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed ledger with the given record TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(scope, key string) string {
	return redisKeyPrefix + scope + ":" + key
}

// Begin claims the key or classifies the replay.
func (s *RedisStore) Begin(ctx context.Context, scope, key, fingerprint string) (BeginResult, error) {
	k := redisKey(scope, key)

	pending, err := json.Marshal(redisRecord{Fingerprint: fingerprint})
	if err != nil {
		return BeginResult{}, fmt.Errorf("marshal claim record: %w", err)
	}

	// Two passes cover the window where an existing record expires between
	// the failed SETNX and the GET.
	for attempt := 0; attempt < 2; attempt++ {
		claimed, err := s.client.SetNX(ctx, k, pending, s.ttl).Result()
		if err != nil {
			return BeginResult{}, fmt.Errorf("redis claim idempotency key: %w", err)
		}
		if claimed {
			return BeginResult{State: StateNew}, nil
		}

		data, err := s.client.Get(ctx, k).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return BeginResult{}, fmt.Errorf("redis get idempotency record: %w", err)
		}

		var rec redisRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return BeginResult{}, fmt.Errorf("unmarshal idempotency record: %w", err)
		}

		if rec.Fingerprint != fingerprint {
			return BeginResult{State: StateConflict}, nil
		}
		if !rec.Done {
			return BeginResult{State: StateInProgress}, nil
		}
		return BeginResult{
			State:        StateReplay,
			StoredStatus: rec.StatusCode,
			StoredBody:   rec.Body,
		}, nil
	}

	return BeginResult{State: StateInProgress}, nil
}

// Complete stores the response for replay, preserving the claim's TTL.
func (s *RedisStore) Complete(ctx context.Context, scope, key string, statusCode int, body []byte) error {
	k := redisKey(scope, key)

	// Re-read the claim to carry its fingerprint forward.
	existing, err := s.client.Get(ctx, k).Bytes()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis get idempotency claim: %w", err)
	}

	var rec redisRecord
	if err == nil {
		if uerr := json.Unmarshal(existing, &rec); uerr != nil {
			return fmt.Errorf("unmarshal idempotency claim: %w", uerr)
		}
	}
	rec.Done = true
	rec.StatusCode = statusCode
	rec.Body = body

	out, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	if err := s.client.Set(ctx, k, out, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redis store idempotency record: %w", err)
	}
	return nil
}

// Abandon releases an unfinished claim so a retry can execute.
func (s *RedisStore) Abandon(ctx context.Context, scope, key string) error {
	k := redisKey(scope, key)

	data, err := s.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis get idempotency claim: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("unmarshal idempotency claim: %w", err)
	}
	if rec.Done {
		return nil
	}

	if err := s.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis release idempotency claim: %w", err)
	}
	return nil
}
