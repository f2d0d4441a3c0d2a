package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"msgdash/backend/internal/cache"
	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/storage/memory"
)

// MockSender 模拟外发通道
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// testClock 可手动拨动的时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingNotifier 记录推送的事件
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	OwnerID string
	Type    string
	Payload interface{}
}

func (n *recordingNotifier) Publish(ownerID, eventType string, payload interface{}) {
	n.mu.Lock()
	n.events = append(n.events, recordedEvent{OwnerID: ownerID, Type: eventType, Payload: payload})
	n.mu.Unlock()
}

func (n *recordingNotifier) Types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]string, len(n.events))
	for i, e := range n.events {
		types[i] = e.Type
	}
	return types
}

type serviceFixture struct {
	store    *memory.Store
	sender   *MockSender
	clock    *testClock
	notifier *recordingNotifier
	messages *MessageService
	replies  *ReplyService
	stats    *StatsService
}

func newFixture(t *testing.T, opts MessageOptions) *serviceFixture {
	t.Helper()
	idem := cache.NewLocalCache(100, time.Hour)
	t.Cleanup(idem.Stop)

	f := &serviceFixture{
		store:    memory.NewStore(),
		sender:   new(MockSender),
		clock:    newTestClock(),
		notifier: &recordingNotifier{},
	}
	f.messages = NewMessageService(f.store, f.store, f.sender, opts, nil)
	f.messages.SetClock(f.clock.Now)
	f.messages.SetNotifier(f.notifier)
	f.messages.SetIdempotencyStore(cache.NewIdempotencyStore(idem))

	f.replies = NewReplyService(f.store, f.store, nil)
	f.replies.SetClock(f.clock.Now)
	f.replies.SetNotifier(f.notifier)

	f.stats = NewStatsService(f.store, f.store)
	f.stats.SetClock(f.clock.Now)
	return f
}

func strPtr(s string) *string { return &s }

func statusPtr(s domain.MessageStatus) *domain.MessageStatus { return &s }

func timePtr(t time.Time) *time.Time { return &t }
