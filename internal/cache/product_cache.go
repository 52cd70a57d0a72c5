package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/types"
	"github.com/shelfsight/shelfsight-backend/internal/utils"
)

const (
	// Discovery-sourced entries live long; a barcode association rarely
	// goes stale. Fresh visual analyses expire sooner so a bad call
	// ages out.
	TTLDiscovery = 90 * 24 * time.Hour
	TTLAnalyzed  = 30 * 24 * time.Hour
)

// TTLForTier maps the producing tier to the entry lifetime.
func TTLForTier(tier int) time.Duration {
	if tier >= 4 {
		return TTLAnalyzed
	}
	return TTLDiscovery
}

type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Stores        int64   `json:"stores"`
	Invalidations int64   `json:"invalidations"`
	HitRate       float64 `json:"hit_rate"`
}

// ProductCache is the document cache store: identification key ->
// previously computed product result. Every operation is best-effort;
// the cache is a cost optimization, not a system of record.
type ProductCache interface {
	Lookup(ctx context.Context, key types.IdentificationKey) (*types.CacheEntry, bool)
	Store(ctx context.Context, key types.IdentificationKey, snapshot *types.ProductSnapshot, tier int, confidence float64)
	Invalidate(ctx context.Context, key types.IdentificationKey)
	InvalidateByProductID(ctx context.Context, productID string)
	Stats() Stats
}

type redisProductCache struct {
	log *logger.Logger
	rdb *goredis.Client
	now func() time.Time

	hits          atomic.Int64
	misses        atomic.Int64
	stores        atomic.Int64
	invalidations atomic.Int64
}

func NewRedisProductCache(log *logger.Logger) (ProductCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "localhost:6379", log))

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisProductCache{
		log: log.With("service", "RedisProductCache"),
		rdb: rdb,
		now: time.Now,
	}, nil
}

func entryKey(key types.IdentificationKey) string {
	return fmt.Sprintf("scan:entry:%s:%s", key.KeyType, key.Value)
}

// accessKey is the companion hash holding hit bookkeeping for an entry.
// Kept out of the entry blob so concurrent hits bump the count with
// HINCRBY instead of racing a read-modify-write on the JSON.
func accessKey(key types.IdentificationKey) string {
	return fmt.Sprintf("scan:access:%s:%s", key.KeyType, key.Value)
}

func accessKeyFromEntryKey(ek string) string {
	return strings.Replace(ek, "scan:entry:", "scan:access:", 1)
}

func productSetKey(productID string) string {
	return fmt.Sprintf("scan:product:%s", productID)
}

// Lookup treats an entry past its ExpiresAt as a miss even if the row
// is physically present, and evicts it. A true hit atomically bumps the
// access count in the companion hash; the entry blob is never written
// on the hit path.
func (c *redisProductCache) Lookup(ctx context.Context, key types.IdentificationKey) (*types.CacheEntry, bool) {
	raw, err := c.rdb.Get(ctx, entryKey(key)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("cache lookup failed", "key_type", key.KeyType, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.log.Warn("cache entry unreadable, evicting", "key_type", key.KeyType, "error", err)
		_ = c.rdb.Del(ctx, entryKey(key), accessKey(key)).Err()
		c.misses.Add(1)
		return nil, false
	}

	now := c.now()
	if entry.Expired(now) {
		_ = c.rdb.Del(ctx, entryKey(key), accessKey(key)).Err()
		c.misses.Add(1)
		return nil, false
	}

	count, err := c.rdb.HIncrBy(ctx, accessKey(key), "count", 1).Result()
	if err != nil {
		c.log.Warn("cache access bookkeeping failed", "key_type", key.KeyType, "error", err)
		count = entry.AccessCount + 1
	} else {
		_ = c.rdb.HSet(ctx, accessKey(key), "last", now.Format(time.RFC3339Nano)).Err()
		_ = c.rdb.Expire(ctx, accessKey(key), TTLDiscovery).Err()
	}
	entry.AccessCount = count
	entry.LastAccessedAt = now

	c.hits.Add(1)
	return &entry, true
}

// Store upserts on (key, keyType) and always resets ExpiresAt. The
// companion access hash is left alone so long-term popularity tracking
// survives refreshes.
func (c *redisProductCache) Store(ctx context.Context, key types.IdentificationKey, snapshot *types.ProductSnapshot, tier int, confidence float64) {
	if snapshot == nil {
		return
	}
	now := c.now()
	ttl := TTLForTier(tier)

	entry := types.CacheEntry{
		Key:             key.Value,
		KeyType:         key.KeyType,
		ProductSnapshot: snapshot,
		TierProduced:    tier,
		Confidence:      confidence,
		CreatedAt:       now,
		LastAccessedAt:  now,
		ExpiresAt:       now.Add(ttl),
	}

	raw, err := json.Marshal(&entry)
	if err != nil {
		c.log.Warn("cache entry marshal failed", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, entryKey(key), raw, ttl).Err(); err != nil {
		c.log.Warn("cache store failed", "key_type", key.KeyType, "error", err)
		return
	}

	// Reverse index so a correction can sweep every key that references
	// this product, whatever its keyType.
	setKey := productSetKey(snapshot.ProductID.String())
	if err := c.rdb.SAdd(ctx, setKey, entryKey(key)).Err(); err != nil {
		c.log.Warn("cache reverse index update failed", "error", err)
	}
	_ = c.rdb.Expire(ctx, setKey, TTLDiscovery).Err()

	c.stores.Add(1)
}

func (c *redisProductCache) Invalidate(ctx context.Context, key types.IdentificationKey) {
	if err := c.rdb.Del(ctx, entryKey(key), accessKey(key)).Err(); err != nil {
		c.log.Warn("cache invalidate failed", "key_type", key.KeyType, "error", err)
		return
	}
	c.invalidations.Add(1)
}

// InvalidateByProductID removes every entry whose snapshot references
// the product, regardless of keyType. Required by the correction loop
// so no stale duplicate survives under a different key.
func (c *redisProductCache) InvalidateByProductID(ctx context.Context, productID string) {
	setKey := productSetKey(productID)
	members, err := c.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		c.log.Warn("cache reverse index read failed", "product_id", productID, "error", err)
		return
	}
	for _, m := range members {
		if err := c.rdb.Del(ctx, m, accessKeyFromEntryKey(m)).Err(); err != nil {
			c.log.Warn("cache invalidate failed", "cache_key", m, "error", err)
			continue
		}
		c.invalidations.Add(1)
	}
	_ = c.rdb.Del(ctx, setKey).Err()
}

func (c *redisProductCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{
		Hits:          hits,
		Misses:        misses,
		Stores:        c.stores.Load(),
		Invalidations: c.invalidations.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
