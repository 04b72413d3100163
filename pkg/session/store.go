// Package session stores per-session conversation history. The hub
// surface is stateless per request; history lives here, keyed by the
// caller's session id.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abdhe/inferoxy-hub/pkg/provider"
)

// Store holds ordered conversation history per session.
type Store interface {
	// Append adds messages to the end of a session's history.
	Append(ctx context.Context, sessionID string, msgs ...provider.Message) error

	// History returns a session's messages in order. A missing session
	// yields an empty history, not an error.
	History(ctx context.Context, sessionID string) ([]provider.Message, error)

	// Clear removes a session's history.
	Clear(ctx context.Context, sessionID string) error
}

// RedisStore keeps each session as a Redis list of JSON-encoded messages
// with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed history store.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

func sessionKey(sessionID string) string {
	return "hub:session:" + sessionID
}

// Append adds messages to the end of a session's history.
func (s *RedisStore) Append(ctx context.Context, sessionID string, msgs ...provider.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("session: marshal message: %w", err)
		}
		values = append(values, data)
	}

	key := sessionKey(sessionID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: append: %w", err)
	}
	return nil
}

// History returns a session's messages in order.
func (s *RedisStore) History(ctx context.Context, sessionID string) ([]provider.Message, error) {
	raw, err := s.client.LRange(ctx, sessionKey(sessionID), 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: history: %w", err)
	}

	msgs := make([]provider.Message, 0, len(raw))
	for _, item := range raw {
		var m provider.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("session: unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Clear removes a session's history.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
