package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb, nil), mr
}

func TestIdempotencyStore_Claim(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewIdempotencyStore(client)
	ctx := context.Background()

	t.Run("首次占用成功", func(t *testing.T) {
		got, claimed, err := store.Claim(ctx, "key-1", "msg-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, "msg-1", got)
		assert.True(t, mr.Exists(idempotencyPrefix+"key-1"))
	})

	t.Run("重复占用返回原值", func(t *testing.T) {
		got, claimed, err := store.Claim(ctx, "key-1", "msg-2", time.Minute)
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.Equal(t, "msg-1", got)
	})

	t.Run("过期后可重新占用", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)

		got, claimed, err := store.Claim(ctx, "key-1", "msg-3", time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, "msg-3", got)
	})

	t.Run("释放后可重新占用", func(t *testing.T) {
		require.NoError(t, store.Release(ctx, "key-1"))

		_, claimed, err := store.Claim(ctx, "key-1", "msg-4", time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)
	})
}

func TestIdempotencyStore_ConnectionError(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewIdempotencyStore(client)
	mr.Close()

	_, claimed, err := store.Claim(context.Background(), "key", "msg", time.Minute)
	assert.Error(t, err)
	assert.False(t, claimed)
}

func TestClient_Ping(t *testing.T) {
	client, _ := newTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}
