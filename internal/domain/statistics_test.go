package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseRate(t *testing.T) {
	tests := []struct {
		name    string
		replies int
		sent    int
		want    int
	}{
		{"no sent messages", 5, 0, 0},
		{"no replies", 0, 3, 0},
		{"exact half", 1, 2, 50},
		{"rounds down", 1, 3, 33},
		{"rounds up", 2, 3, 67},
		{"half rounds up", 1, 8, 13},
		{"clamped at 100", 3, 1, 100},
		{"exactly 100", 4, 4, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResponseRate(tt.replies, tt.sent))
		})
	}
}

func TestComputeStats(t *testing.T) {
	t.Run("空集合", func(t *testing.T) {
		stats := ComputeStats(nil, nil)
		assert.Equal(t, Stats{}, stats)
	})

	t.Run("按状态计数", func(t *testing.T) {
		messages := []*Message{
			{ID: "1", Status: MessageStatusSent},
			{ID: "2", Status: MessageStatusSent},
			{ID: "3", Status: MessageStatusScheduled},
			{ID: "4", Status: MessageStatusFailed},
		}
		replies := []*Reply{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}}

		stats := ComputeStats(messages, replies)
		assert.Equal(t, 4, stats.TotalMessages)
		assert.Equal(t, 2, stats.SentMessages)
		assert.Equal(t, 1, stats.ScheduledMessages)
		assert.Equal(t, 1, stats.FailedMessages)
		assert.Equal(t, 3, stats.TotalReplies)
		// 3/2 超过 100%，被截断
		assert.Equal(t, 100, stats.ResponseRate)
		assert.Equal(t, stats.TotalMessages, stats.SentMessages+stats.ScheduledMessages+stats.FailedMessages)
	})

	t.Run("只有定时消息时回复率为0", func(t *testing.T) {
		messages := []*Message{{ID: "1", Status: MessageStatusScheduled}}
		stats := ComputeStats(messages, []*Reply{{ID: "r1"}})
		assert.Equal(t, 0, stats.ResponseRate)
	})
}

func TestComputeDailyActivity(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
	messages := []*Message{
		{ID: "1", Status: MessageStatusSent, CreatedAt: now},
		{ID: "2", Status: MessageStatusScheduled, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "3", Status: MessageStatusFailed, CreatedAt: now.AddDate(0, 0, -6)},
		{ID: "4", Status: MessageStatusSent, CreatedAt: now.AddDate(0, 0, -7)}, // 超出 7 天窗口
	}

	buckets := ComputeDailyActivity(messages, 7, now)
	require.Len(t, buckets, 7)

	assert.Equal(t, "2024-05-04", buckets[0].Date)
	assert.Equal(t, "2024-05-10", buckets[6].Date)

	assert.Equal(t, 1, buckets[0].Messages)
	assert.Equal(t, 1, buckets[0].Failed)

	assert.Equal(t, 2, buckets[6].Messages)
	assert.Equal(t, 1, buckets[6].Sent)
	assert.Equal(t, 1, buckets[6].Scheduled)

	total := 0
	for _, b := range buckets {
		total += b.Messages
	}
	assert.Equal(t, 3, total)

	assert.Empty(t, ComputeDailyActivity(messages, 0, now))
}

func TestComputeStats_TotalsAddUp(t *testing.T) {
	tests := []struct {
		name                    string
		sent, scheduled, failed int
		replies                 int
		wantRate                int
	}{
		{"只有已发送", 5, 0, 0, 2, 40},
		{"只有定时", 0, 3, 0, 0, 0},
		{"只有失败", 0, 0, 4, 1, 0},
		{"混合状态", 3, 2, 1, 1, 33},
		{"大量消息", 40, 25, 35, 90, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var messages []*Message
			add := func(n int, status MessageStatus) {
				for i := 0; i < n; i++ {
					messages = append(messages, &Message{ID: string(status) + "-" + string(rune('a'+i)), Status: status})
				}
			}
			// 插入顺序不影响计数
			add(tt.failed, MessageStatusFailed)
			add(tt.sent, MessageStatusSent)
			add(tt.scheduled, MessageStatusScheduled)

			replies := make([]*Reply, tt.replies)
			for i := range replies {
				replies[i] = &Reply{ID: "r"}
			}

			stats := ComputeStats(messages, replies)
			assert.Equal(t, len(messages), stats.TotalMessages)
			assert.Equal(t, stats.TotalMessages, stats.SentMessages+stats.ScheduledMessages+stats.FailedMessages)
			assert.Equal(t, tt.sent, stats.SentMessages)
			assert.Equal(t, tt.scheduled, stats.ScheduledMessages)
			assert.Equal(t, tt.failed, stats.FailedMessages)
			assert.Equal(t, tt.wantRate, stats.ResponseRate)
		})
	}
}
