package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitForAtLeast(t *testing.T, calls *atomic.Int64, want int64, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		return calls.Load() >= want
	}, timeout, 5*time.Millisecond)
}

func TestNew_InvalidArgs(t *testing.T) {
	t.Run("interval must be > 0", func(t *testing.T) {
		s, err := New("test", 0, func(context.Context) {}, nil)
		assert.Error(t, err)
		assert.Nil(t, s)
	})

	t.Run("tickFn must not be nil", func(t *testing.T) {
		s, err := New("test", 100*time.Millisecond, nil, nil)
		assert.Error(t, err)
		assert.Nil(t, s)
	})
}

func TestScheduler_StartStop(t *testing.T) {
	var calls atomic.Int64
	s, err := New("test", 10*time.Millisecond, func(context.Context) {
		calls.Add(1)
	}, nil)
	require.NoError(t, err)

	assert.False(t, s.IsRunning())
	assert.True(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.False(t, s.Start(context.Background()))

	waitForAtLeast(t, &calls, 2, time.Second)

	assert.True(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.False(t, s.Stop())

	before := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, calls.Load())
}

func TestScheduler_ImmediateTickOnStart(t *testing.T) {
	var calls atomic.Int64
	s, err := New("test", 10*time.Second, func(context.Context) {
		calls.Add(1)
	}, nil)
	require.NoError(t, err)

	require.True(t, s.Start(context.Background()))
	defer s.Stop()

	waitForAtLeast(t, &calls, 1, 500*time.Millisecond)
}

func TestScheduler_PanicRecovered(t *testing.T) {
	var (
		calls    atomic.Int64
		panicked atomic.Bool
	)
	s, err := New("test", 10*time.Millisecond, func(context.Context) {
		if panicked.CompareAndSwap(false, true) {
			panic("boom")
		}
		calls.Add(1)
	}, nil)
	require.NoError(t, err)

	require.True(t, s.Start(context.Background()))
	defer s.Stop()

	waitForAtLeast(t, &calls, 1, time.Second)
	assert.True(t, panicked.Load())
}

func TestScheduler_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New("test", 10*time.Millisecond, func(context.Context) {}, nil)
	require.NoError(t, err)

	require.True(t, s.Start(ctx))
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after parent cancel")
	}
	// 已退出的循环仍需要 Stop 复位状态
	assert.True(t, s.Stop())
}
