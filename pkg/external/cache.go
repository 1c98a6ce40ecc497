package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

const (
	literatureKeyPrefix = "literature:"
	redisDialTimeout    = 5 * time.Second
	redisFallbackTTL    = 24 * time.Hour
)

// RedisEvidenceCache is the shared second tier of the literature cache.
// Entries expire after the configured TTL.
type RedisEvidenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisEvidenceCache dials cfg.RedisURL and pings it before returning.
func NewRedisEvidenceCache(cfg domain.CacheConfig) (*RedisEvidenceCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	c := newRedisEvidenceCache(redis.NewClient(opts), cfg.DefaultTTL)

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.Addr, err)
	}
	return c, nil
}

func newRedisEvidenceCache(client *redis.Client, ttl time.Duration) *RedisEvidenceCache {
	if ttl <= 0 {
		ttl = redisFallbackTTL
	}
	return &RedisEvidenceCache{client: client, ttl: ttl}
}

// storedEvidence is the JSON value kept under each key.
type storedEvidence struct {
	Data     *domain.EvidenceResult `json:"data"`
	CachedAt time.Time              `json:"cached_at"`
}

// Get looks up query. Undecodable entries are deleted and count as a miss.
func (c *RedisEvidenceCache) Get(ctx context.Context, query string) (*domain.EvidenceResult, bool, error) {
	key := evidenceKey(query)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var entry storedEvidence
	if json.Unmarshal(raw, &entry) != nil || entry.Data == nil {
		c.client.Del(ctx, key)
		return nil, false, nil
	}
	return entry.Data, true, nil
}

// Set stores result under query for the cache TTL.
func (c *RedisEvidenceCache) Set(ctx context.Context, query string, result *domain.EvidenceResult) error {
	raw, err := json.Marshal(storedEvidence{Data: result, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding literature for cache: %w", err)
	}
	return c.client.Set(ctx, evidenceKey(query), raw, c.ttl).Err()
}

func (c *RedisEvidenceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisEvidenceCache) Close() error {
	return c.client.Close()
}

// evidenceKey folds case and whitespace so equivalent queries share an entry.
func evidenceKey(query string) string {
	folded := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(folded))
	return literatureKeyPrefix + hex.EncodeToString(sum[:8])
}
