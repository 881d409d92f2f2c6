package cache

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/dearplant/dearplant/models"
)

// ResponseCache memoizes idempotent provider results by request fingerprint.
// Entries are immutable once written; overwriting a fingerprint is
// last-write-wins. Expired entries are evicted lazily on read and by the
// store's background sweep; an expired entry is never returned as a hit.
type ResponseCache struct {
	store  *gocache.Cache
	logger *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats reports cache performance counters.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// New creates a response cache. sweepInterval controls the background
// eviction of expired entries; TTLs are supplied per Put.
func New(sweepInterval time.Duration, logger *zap.Logger) *ResponseCache {
	return &ResponseCache{
		store:  gocache.New(gocache.NoExpiration, sweepInterval),
		logger: logger,
	}
}

// Fingerprint derives the deterministic cache key from the category, the
// normalized request payload and the caller-supplied idempotency key.
func Fingerprint(category models.Category, normalized []byte, idempotencyKey string) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(category))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(normalized)
	if idempotencyKey != "" {
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(idempotencyKey)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Get returns the cached entry for a fingerprint, or a miss if absent or
// expired.
func (c *ResponseCache) Get(fingerprint string) (*models.CacheEntry, bool) {
	v, ok := c.store.Get(fingerprint)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	entry := v.(*models.CacheEntry)
	c.hits.Add(1)
	return entry, true
}

// Put stores a successful response under its fingerprint with the given TTL.
func (c *ResponseCache) Put(fingerprint string, category models.Category, providerID string, payload json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	entry := &models.CacheEntry{
		Fingerprint: fingerprint,
		Category:    category,
		ProviderID:  providerID,
		Payload:     payload,
		CreatedAt:   time.Now(),
		TTL:         ttl,
	}
	c.store.Set(fingerprint, entry, ttl)
}

// Flush drops every entry. Used by the admin surface.
func (c *ResponseCache) Flush() {
	c.store.Flush()
}

// Stats returns the cache counters.
func (c *ResponseCache) Stats() Stats {
	return Stats{
		Entries: c.store.ItemCount(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
