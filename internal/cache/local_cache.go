package cache

import (
	"sync"
	"time"
)

// LocalCache 本地内存缓存
//
// 特点：
// - 读取走 sync.Map，无锁
// - 支持 TTL 过期
// - 后台定期清理过期条目，Stop 后退出
// - 超出容量时先清理过期条目，仍不够则淘汰最早过期的条目
type LocalCache struct {
	data    sync.Map
	mu      sync.Mutex // 串行化写入与计数
	size    int
	maxSize int
	ttl     time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，<=0 表示不限制
//   - ttl: 默认过期时间
func NewLocalCache(maxSize int, ttl time.Duration) *LocalCache {
	cache := &LocalCache{
		maxSize: maxSize,
		ttl:     ttl,
		done:    make(chan struct{}),
	}

	go cache.cleanupLoop(time.Minute)

	return cache
}

// Get 获取缓存值
func (c *LocalCache) Get(key string) (interface{}, bool) {
	val, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}

	entry := val.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.deleteEntry(key, entry)
		return nil, false
	}

	return entry.value, true
}

// Set 设置缓存值，容量已满时淘汰旧条目
func (c *LocalCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data.Load(key); !exists {
		c.makeRoomLocked(time.Now())
		c.size++
	}
	c.data.Store(key, c.newEntry(value, ttl))
}

// SetIfAbsent 仅在 key 不存在（或已过期）时写入。
// 返回当前值以及本次是否写入。
func (c *LocalCache) SetIfAbsent(key string, value interface{}, ttl time.Duration) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val, ok := c.data.Load(key); ok {
		entry := val.(*cacheEntry)
		if !time.Now().After(entry.expiresAt) {
			return entry.value, false
		}
		c.data.Store(key, c.newEntry(value, ttl))
		return value, true
	}

	c.makeRoomLocked(time.Now())
	c.size++
	c.data.Store(key, c.newEntry(value, ttl))
	return value, true
}

// Delete 删除缓存值
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, loaded := c.data.LoadAndDelete(key); loaded {
		c.size--
	}
}

// Len 当前条目数（包括尚未清理的过期条目）
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stop 停止后台清理
func (c *LocalCache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// deleteEntry 仅当 key 仍指向 entry 时删除，避免误删刚写入的新值
func (c *LocalCache) deleteEntry(key string, entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data.CompareAndDelete(key, entry) {
		c.size--
	}
}

func (c *LocalCache) full() bool {
	return c.maxSize > 0 && c.size >= c.maxSize
}

// makeRoomLocked 为新 key 腾出空间，调用方持有 c.mu
func (c *LocalCache) makeRoomLocked(now time.Time) {
	if !c.full() {
		return
	}

	var (
		oldestKey   interface{}
		oldestEntry *cacheEntry
	)
	c.data.Range(func(key, value interface{}) bool {
		entry := value.(*cacheEntry)
		if now.After(entry.expiresAt) {
			if c.data.CompareAndDelete(key, entry) {
				c.size--
			}
			return true
		}
		if oldestEntry == nil || entry.expiresAt.Before(oldestEntry.expiresAt) {
			oldestKey, oldestEntry = key, entry
		}
		return true
	})

	if c.full() && oldestEntry != nil {
		if c.data.CompareAndDelete(oldestKey, oldestEntry) {
			c.size--
		}
	}
}

func (c *LocalCache) newEntry(value interface{}, ttl time.Duration) *cacheEntry {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return &cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// cleanupLoop 定期清理过期条目
func (c *LocalCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.purgeExpired(time.Now())
		}
	}
}

func (c *LocalCache) purgeExpired(now time.Time) {
	c.data.Range(func(key, value interface{}) bool {
		entry := value.(*cacheEntry)
		if now.After(entry.expiresAt) {
			c.deleteEntry(key.(string), entry)
		}
		return true
	})
}
