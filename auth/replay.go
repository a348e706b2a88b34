package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard remembers used request keys for a while.
type ReplayGuard interface {
	// Claim records key for ttl. It fails with ErrReplayedRequest if key
	// was already claimed and has not expired.
	Claim(ctx context.Context, key string, ttl time.Duration) error
}

// MemoryReplayGuard keeps claimed keys in process memory.
type MemoryReplayGuard struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{expires: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, exp := range g.expires {
		if !now.Before(exp) {
			delete(g.expires, k)
		}
	}

	if _, ok := g.expires[key]; ok {
		return ErrReplayedRequest
	}
	g.expires[key] = now.Add(ttl)
	return nil
}

const replayKeyPrefix = "registry:replay:"

// RedisReplayGuard shares claimed keys between relay instances through Redis.
type RedisReplayGuard struct {
	client *redis.Client
}

func NewRedisReplayGuard(client *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{client: client}
}

// OpenRedisReplayGuard connects to url (redis://...) and checks the connection.
func OpenRedisReplayGuard(ctx context.Context, url string) (*RedisReplayGuard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisReplayGuard(client), nil
}

// Claim uses SET NX so that exactly one instance wins a key.
func (g *RedisReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := g.client.SetNX(ctx, replayKeyPrefix+key, "1", ttl).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("claim request key: %w", err)
	}
	if !ok {
		return ErrReplayedRequest
	}
	return nil
}

func (g *RedisReplayGuard) Health(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisReplayGuard) Close() error {
	return g.client.Close()
}
