// internal/storage/cache.go
package storage

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ttlCache 带过期时间与容量上限的读缓存
// 过期在读取时判定，容量超限时按最近读取时间淘汰，不另起清理协程
type ttlCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
}

type cacheEntry struct {
	data     []byte
	storedAt time.Time
	lastRead time.Time
}

func newTTLCache(ttl time.Duration, maxSize int) *ttlCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 256
	}
	return &ttlCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func (c *ttlCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	entry.lastRead = time.Now()
	return entry.data, true
}

func (c *ttlCache) put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.entries[key] = &cacheEntry{data: data, storedAt: now, lastRead: now}

	if len(c.entries) > c.maxSize {
		c.evictLocked(len(c.entries) - c.maxSize)
	}
}

func (c *ttlCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *ttlCache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// evictLocked 淘汰 n 个最久未读的条目，调用方持锁
func (c *ttlCache) evictLocked(n int) {
	type keyAge struct {
		key      string
		lastRead time.Time
	}

	ages := make([]keyAge, 0, len(c.entries))
	for key, entry := range c.entries {
		ages = append(ages, keyAge{key, entry.lastRead})
	}
	sort.Slice(ages, func(i, j int) bool {
		return ages[i].lastRead.Before(ages[j].lastRead)
	})

	if n > len(ages) {
		n = len(ages)
	}
	for i := 0; i < n; i++ {
		delete(c.entries, ages[i].key)
	}
}
