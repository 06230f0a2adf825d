package market

import (
	"sync"
	"time"
)

// cacheEntry 带过期时间的缓存条目
type cacheEntry struct {
	value    interface{}
	expireAt time.Time
}

// ttlCache 行情数据内存缓存，过期后惰性失效
type ttlCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newTTLCache() *ttlCache {
	return &ttlCache{
		entries: make(map[string]cacheEntry),
	}
}

// Get 读取未过期的缓存值
func (c *ttlCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expireAt) {
		return nil, false
	}
	return entry.value, true
}

// Set 写入缓存值并设置存活时间
func (c *ttlCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{
		value:    value,
		expireAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

// Invalidate 删除指定缓存键
func (c *ttlCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
