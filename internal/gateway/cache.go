package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// verdictCache memoizes window → verdict lookups so identical windows
// seen across requests within VerdictCacheTTL skip a guardrail round
// trip entirely. This is a SPEC_FULL addition layered on top of §5's
// remark that the Batch Aggregator "partially compensates" for gateway
// throughput being coupled to guardrail latency; the cache compensates
// further for windows that repeat verbatim.
type verdictCache interface {
	get(ctx context.Context, window string) (verdict string, ok bool)
	set(ctx context.Context, window, verdict string)
}

func cacheKey(window string) string {
	sum := sha256.Sum256([]byte(window))
	return "guardstream:verdict:" + hex.EncodeToString(sum[:])
}

// memCache is the default in-process fallback used when no Redis URL is
// configured. A single mutex is fine here: window classification is
// already the slow path, and cache hits/misses are cheap map ops.
type memCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	verdict   string
	expiresAt time.Time
}

func newMemCache(ttl time.Duration) *memCache {
	return &memCache{ttl: ttl, entries: make(map[string]memEntry)}
}

func (c *memCache) get(_ context.Context, window string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey(window)]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, cacheKey(window))
		return "", false
	}
	return e.verdict, true
}

func (c *memCache) set(_ context.Context, window, verdict string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(window)] = memEntry{verdict: verdict, expiresAt: time.Now().Add(c.ttl)}
}

// redisCache backs the cache with go-redis when RedisURL is configured,
// so multiple gateway replicas share verdicts for repeated windows.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisCache(client *redis.Client, ttl time.Duration) *redisCache {
	return &redisCache{client: client, ttl: ttl}
}

func (c *redisCache) get(ctx context.Context, window string) (string, bool) {
	val, err := c.client.Get(ctx, cacheKey(window)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *redisCache) set(ctx context.Context, window, verdict string) {
	if c.ttl <= 0 {
		return
	}
	c.client.Set(ctx, cacheKey(window), verdict, c.ttl)
}

// newVerdictCache chooses a redisCache when redisURL is non-empty,
// otherwise falls back to an in-process memCache.
func newVerdictCache(redisURL string, ttl time.Duration) (verdictCache, error) {
	if redisURL == "" {
		return newMemCache(ttl), nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return newRedisCache(redis.NewClient(opt), ttl), nil
}
