package cache

import (
	"context"
	"time"
)

// IdempotencyStore 单实例部署时使用的幂等键存储。
// 容量用满后淘汰最早过期的 key，被淘汰的 key 不再去重。
type IdempotencyStore struct {
	cache *LocalCache
}

// NewIdempotencyStore 基于本地缓存创建幂等键存储
func NewIdempotencyStore(cache *LocalCache) *IdempotencyStore {
	return &IdempotencyStore{cache: cache}
}

// Claim 占用 key。key 已存在时返回其记录的值
func (s *IdempotencyStore) Claim(_ context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	current, stored := s.cache.SetIfAbsent(key, value, ttl)
	if stored {
		return value, true, nil
	}
	return current.(string), false, nil
}

// Release 释放 key
func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
