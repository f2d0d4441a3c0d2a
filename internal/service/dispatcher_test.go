package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"msgdash/backend/internal/cache"
	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/pool"
)

func scheduleMessage(t *testing.T, f *serviceFixture, content string, in time.Duration) *domain.Message {
	t.Helper()
	at := f.clock.Now().Add(in)
	msg, err := f.messages.Create(context.Background(), CreateMessageInput{
		OwnerID:       "owner-1",
		Content:       content,
		Recipients:    []string{"+1"},
		ScheduledTime: &at,
	})
	require.NoError(t, err)
	return msg
}

func TestDispatcher_DispatchDue(t *testing.T) {
	f := newFixture(t, MessageOptions{})
	ctx := context.Background()

	due := scheduleMessage(t, f, "due", time.Minute)
	failing := scheduleMessage(t, f, "failing", 2*time.Minute)
	later := scheduleMessage(t, f, "later", time.Hour)

	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool { return m.ID == due.ID })).Return(nil).Once()
	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool { return m.ID == failing.ID })).Return(errors.New("device offline")).Once()

	workers := pool.NewWorkerPool(2, 4, nil)
	workers.Start(ctx)
	defer workers.Stop()

	d := NewDispatcher(f.store, f.sender, workers, 10, nil)
	d.SetClock(f.clock.Now)
	d.SetNotifier(f.notifier)

	f.clock.Advance(5 * time.Minute)

	sent, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	got, err := f.messages.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusSent, got.Status)
	require.NotNil(t, got.SentTime)
	assert.Equal(t, f.clock.Now(), *got.SentTime)

	got, err = f.messages.Get(ctx, failing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusFailed, got.Status)
	assert.Nil(t, got.SentTime)

	got, err = f.messages.Get(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusScheduled, got.Status)

	// 再次扫描没有到期消息
	sent, err = d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	f.sender.AssertExpectations(t)
}

func TestDispatcher_BatchSize(t *testing.T) {
	f := newFixture(t, MessageOptions{})
	for i := 0; i < 3; i++ {
		scheduleMessage(t, f, "due", time.Duration(i+1)*time.Minute)
	}
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	d := NewDispatcher(f.store, f.sender, nil, 2, nil)
	d.SetClock(f.clock.Now)
	f.clock.Advance(time.Hour)

	sent, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	sent, err = d.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestDispatcher_SkipsClaimedMessages(t *testing.T) {
	f := newFixture(t, MessageOptions{})
	msg := scheduleMessage(t, f, "due", time.Minute)

	lc := cache.NewLocalCache(10, time.Minute)
	defer lc.Stop()
	claims := cache.NewIdempotencyStore(lc)
	_, claimed, err := claims.Claim(context.Background(), dispatchClaimPrefix+msg.ID, "other-instance", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	d := NewDispatcher(f.store, f.sender, nil, 10, nil)
	d.SetClock(f.clock.Now)
	d.SetClaimStore(claims)
	f.clock.Advance(time.Hour)

	sent, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)

	got, err := f.messages.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusScheduled, got.Status)
}

func TestDispatcher_StoppedPool(t *testing.T) {
	f := newFixture(t, MessageOptions{})
	scheduleMessage(t, f, "due", time.Minute)

	workers := pool.NewWorkerPool(1, 1, nil)
	workers.Start(context.Background())
	workers.Stop()

	d := NewDispatcher(f.store, f.sender, workers, 10, nil)
	d.SetClock(f.clock.Now)
	f.clock.Advance(time.Hour)

	_, err := d.DispatchDue(context.Background())
	assert.ErrorIs(t, err, pool.ErrPoolStopped)
}

func TestDispatcher_FullIdempotencyCache(t *testing.T) {
	f := newFixture(t, MessageOptions{IdempotencyTTL: time.Hour})
	ctx := context.Background()

	lc := cache.NewLocalCache(3, time.Hour)
	defer lc.Stop()
	shared := cache.NewIdempotencyStore(lc)
	f.messages.SetIdempotencyStore(shared)

	at := f.clock.Now().Add(time.Minute)
	for i := 0; i < 4; i++ {
		_, err := f.messages.Create(ctx, CreateMessageInput{
			OwnerID:        "owner-1",
			Content:        "keyed",
			Recipients:     []string{"+1"},
			ScheduledTime:  &at,
			IdempotencyKey: "key-" + string(rune('a'+i)),
		})
		require.NoError(t, err, "第 %d 次带幂等键创建", i+1)
	}
	assert.Equal(t, 3, lc.Len())

	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.clock.Advance(time.Hour)

	t.Run("共享缓存已满时仍能派发", func(t *testing.T) {
		d := NewDispatcher(f.store, f.sender, nil, 10, nil)
		d.SetClock(f.clock.Now)
		d.SetClaimStore(shared)

		sent, err := d.DispatchDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, sent)

		list, err := f.messages.List(ctx, "owner-1")
		require.NoError(t, err)
		for _, m := range list {
			assert.Equal(t, domain.MessageStatusSent, m.Status)
		}
	})
}

func TestDispatcher_InProcessClaims(t *testing.T) {
	f := newFixture(t, MessageOptions{})
	d := NewDispatcher(f.store, f.sender, nil, 10, nil)

	release, claimed := d.claim(context.Background(), "m1")
	require.True(t, claimed)

	_, claimed = d.claim(context.Background(), "m1")
	assert.False(t, claimed, "同一消息派发中不能再次占用")

	_, claimed = d.claim(context.Background(), "m2")
	assert.True(t, claimed)

	release()
	_, claimed = d.claim(context.Background(), "m1")
	assert.True(t, claimed)
}
