// Package cache provides the short-lived shared state used across requests: the nonce
// replay cache and the per-key lock that serializes token refreshes.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayCache marks values as used. Use returns true the first time a (kind, value) pair
// is seen within ttl and false for every repeat.
type ReplayCache interface {
	Use(ctx context.Context, kind, value string, ttl time.Duration) (bool, error)
}

func replayKey(kind, value string) (string, error) {
	kind = strings.TrimSpace(strings.ToLower(kind))
	value = strings.TrimSpace(value)
	if kind == "" || value == "" {
		return "", fmt.Errorf("replay: kind and value are required")
	}
	return kind + "|" + value, nil
}

// MemoryReplay is a process-local ReplayCache. Expired entries are purged every purgeN
// calls.
type MemoryReplay struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	useCount uint64
	purgeN   uint64
	now      func() time.Time
}

// NewMemoryReplay creates an in-memory replay cache. purgeEvery <= 0 uses 1024.
func NewMemoryReplay(purgeEvery int) *MemoryReplay {
	if purgeEvery <= 0 {
		purgeEvery = 1024
	}
	return &MemoryReplay{
		entries: make(map[string]time.Time, 1024),
		purgeN:  uint64(purgeEvery),
		now:     time.Now,
	}
}

func (m *MemoryReplay) Use(_ context.Context, kind, value string, ttl time.Duration) (bool, error) {
	k, err := replayKey(kind, value)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.useCount++
	if m.useCount%m.purgeN == 0 {
		m.purgeLocked(now)
	}

	if until, ok := m.entries[k]; ok && until.After(now) {
		return false, nil
	}
	m.entries[k] = now.Add(ttl)
	return true, nil
}

func (m *MemoryReplay) purgeLocked(now time.Time) {
	for k, until := range m.entries {
		if !until.After(now) {
			delete(m.entries, k)
		}
	}
}

// Len returns the number of tracked entries, expired or not.
func (m *MemoryReplay) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RedisReplay is a ReplayCache shared by every process using the same Redis.
type RedisReplay struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisReplay creates a Redis-backed replay cache.
func NewRedisReplay(client redis.UniversalClient, keyPrefix string) *RedisReplay {
	return &RedisReplay{client: client, keyPrefix: keyPrefix}
}

func (r *RedisReplay) Use(ctx context.Context, kind, value string, ttl time.Duration) (bool, error) {
	k, err := replayKey(kind, value)
	if err != nil {
		return false, err
	}

	// SET NX PX marks the value atomically; only the first caller wins.
	ok, err := r.client.SetNX(ctx, r.keyPrefix+"replay:"+k, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay: redis: %w", err)
	}
	return ok, nil
}
