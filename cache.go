package records

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TTLCache is a ProgramCache backed by an expiring in-memory cache. The
// coordinator also uses it for optional query-response caching.
type TTLCache struct {
	inner *gocache.Cache
}

// NewTTLCache constructs a cache whose entries expire after ttl and are
// swept every cleanup interval. A non-positive ttl keeps entries forever.
func NewTTLCache(ttl, cleanup time.Duration) *TTLCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &TTLCache{inner: gocache.New(ttl, cleanup)}
}

// Get implements ProgramCache.
func (c *TTLCache) Get(key string) (any, bool) {
	return c.inner.Get(key)
}

// Set implements ProgramCache.
func (c *TTLCache) Set(key string, value any) {
	c.inner.Set(key, value, gocache.DefaultExpiration)
}

// Delete removes one entry.
func (c *TTLCache) Delete(key string) {
	c.inner.Delete(key)
}

// Flush drops every entry.
func (c *TTLCache) Flush() {
	c.inner.Flush()
}
