// Package livetimer holds the volatile "which task is this user timing right
// now" state in Redis. It is the fast source of truth for running timers; the
// durable ledger lives in the store package.
package livetimer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is the cached value for a user with a running timer.
type Entry struct {
	TaskID    string    `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
}

// RedisStore keeps at most one Entry per user id.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "tempo:timer:"}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "tempo:timer:"}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

// Claim atomically reserves the user's timer slot via SETNX. Exactly one of
// two concurrent claims succeeds; the loser receives the current entry so the
// caller can report which task is already running.
func (s *RedisStore) Claim(ctx context.Context, userID, taskID string, startedAt time.Time) (bool, *Entry, error) {
	payload, err := json.Marshal(Entry{TaskID: taskID, StartedAt: startedAt})
	if err != nil {
		return false, nil, fmt.Errorf("marshal timer entry: %w", err)
	}

	claimed, err := s.client.SetNX(ctx, s.key(userID), payload, 0).Result()
	if err != nil {
		return false, nil, fmt.Errorf("claim timer slot: %w", err)
	}
	if claimed {
		return true, nil, nil
	}

	current, err := s.Get(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	return false, current, nil
}

// Get returns the user's running entry, or nil when no timer is active.
func (s *RedisStore) Get(ctx context.Context, userID string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get timer entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal timer entry: %w", err)
	}
	return &entry, nil
}

// Release deletes the user's entry only while it still points at taskID. A
// pause racing a fresh start for another task must not wipe the new claim.
func (s *RedisStore) Release(ctx context.Context, userID, taskID string) (bool, error) {
	entry, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if entry == nil || entry.TaskID != taskID {
		return false, nil
	}
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return false, fmt.Errorf("release timer slot: %w", err)
	}
	return true, nil
}

// Clear unconditionally drops the user's entry. Used by the explicit
// force-clear recovery path and by start rollback.
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("clear timer slot: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
