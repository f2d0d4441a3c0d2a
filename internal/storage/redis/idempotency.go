package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "msgdash:idem:"

// IdempotencyStore 基于 SETNX 的幂等键存储，多实例共享
type IdempotencyStore struct {
	client *Client
}

// NewIdempotencyStore 创建幂等键存储
func NewIdempotencyStore(client *Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

// Claim 占用 key。key 已存在时返回其记录的值
func (s *IdempotencyStore) Claim(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	rkey := idempotencyPrefix + key
	ok, err := s.client.rdb.SetNX(ctx, rkey, value, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return value, true, nil
	}

	existing, err := s.client.rdb.Get(ctx, rkey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// 在 SETNX 与 GET 之间过期，重试一次
			ok, err = s.client.rdb.SetNX(ctx, rkey, value, ttl).Result()
			if err != nil {
				return "", false, fmt.Errorf("claim idempotency key: %w", err)
			}
			if ok {
				return value, true, nil
			}
		}
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	return existing, false, nil
}

// Release 释放 key
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.rdb.Del(ctx, idempotencyPrefix+key).Err()
}
