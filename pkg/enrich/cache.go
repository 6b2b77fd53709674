package enrich

import (
	"crypto/sha1" //#nosec G505 -- used for cache key shortening, not security
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores enrichment outcomes per website. An empty value records that
// a site was checked and had no usable address.
type Cache interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, expiration time.Duration) error
}

// MemcacheCache implements Cache using memcache.
type MemcacheCache struct {
	client *memcache.Client
}

// NewMemcacheCache creates a cache backed by the given memcache servers.
func NewMemcacheCache(servers ...string) *MemcacheCache {
	return &MemcacheCache{client: memcache.New(servers...)}
}

// Get retrieves a value from memcache.
func (m *MemcacheCache) Get(key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

// Set stores a value in memcache with an expiration time.
func (m *MemcacheCache) Set(key string, value []byte, expiration time.Duration) error {
	return m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(expiration.Seconds()),
	})
}

// Ping checks that a memcache server is reachable.
func (m *MemcacheCache) Ping() error {
	return m.client.Ping()
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

// Get implements Cache.
func (c *MemoryCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !item.expires.IsZero() && c.now().After(item.expires) {
		delete(c.items, key)
		return nil, ErrCacheMiss
	}
	return item.value, nil
}

// Set implements Cache. A zero expiration never expires.
func (c *MemoryCache) Set(key string, value []byte, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := memoryItem{value: append([]byte(nil), value...)}
	if expiration > 0 {
		item.expires = c.now().Add(expiration)
	}
	c.items[key] = item
	return nil
}

// cacheKey derives a memcache-safe key from a website URL. Scheme, "www."
// and trailing slashes do not change the key.
func cacheKey(website string) string {
	normalized := strings.ToLower(strings.TrimSpace(website))
	if u, err := url.Parse(normalized); err == nil && u.Host != "" {
		normalized = strings.TrimPrefix(u.Host, "www.") + strings.TrimSuffix(u.Path, "/")
	}
	sum := sha1.Sum([]byte(normalized)) //#nosec G401
	return "mapsleads:email:" + hex.EncodeToString(sum[:])
}
