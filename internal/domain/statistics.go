package domain

import "time"

// Stats 某个账号的消息统计，每次读取时重新计算
type Stats struct {
	TotalMessages     int `json:"totalMessages"`
	SentMessages      int `json:"sentMessages"`
	ScheduledMessages int `json:"scheduledMessages"`
	FailedMessages    int `json:"failedMessages"`
	TotalReplies      int `json:"totalReplies"`
	ResponseRate      int `json:"responseRate"` // 百分比，0-100
}

// DailyActivity 单日消息分布
type DailyActivity struct {
	Date      string `json:"date"` // YYYY-MM-DD
	Messages  int    `json:"messages"`
	Sent      int    `json:"sent"`
	Scheduled int    `json:"scheduled"`
	Failed    int    `json:"failed"`
}

// 支持的活动区间（天）
var ActivityRanges = map[string]int{
	"7d":  7,
	"30d": 30,
	"90d": 90,
}

// ResponseRate 计算回复率：round(replies/sent*100)，上限 100，sent 为 0 时返回 0
func ResponseRate(replies, sent int) int {
	if sent <= 0 || replies <= 0 {
		return 0
	}
	// 整数运算下的四舍五入（半数向上）
	rate := (200*replies + sent) / (2 * sent)
	if rate > 100 {
		return 100
	}
	return rate
}

// ComputeStats 根据消息与回复快照计算统计，纯函数
func ComputeStats(messages []*Message, replies []*Reply) Stats {
	stats := Stats{
		TotalMessages: len(messages),
		TotalReplies:  len(replies),
	}
	for _, m := range messages {
		switch m.Status {
		case MessageStatusSent:
			stats.SentMessages++
		case MessageStatusScheduled:
			stats.ScheduledMessages++
		case MessageStatusFailed:
			stats.FailedMessages++
		}
	}
	stats.ResponseRate = ResponseRate(stats.TotalReplies, stats.SentMessages)
	return stats
}

// ComputeDailyActivity 按创建日期统计最近 days 天的消息，最早的一天在前。
// 日期以 now 所在时区划分。
func ComputeDailyActivity(messages []*Message, days int, now time.Time) []DailyActivity {
	if days <= 0 {
		return []DailyActivity{}
	}
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	start := today.AddDate(0, 0, -(days - 1))

	buckets := make([]DailyActivity, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		buckets[i] = DailyActivity{Date: date}
		index[date] = i
	}

	for _, m := range messages {
		i, ok := index[m.CreatedAt.In(loc).Format("2006-01-02")]
		if !ok {
			continue
		}
		b := &buckets[i]
		b.Messages++
		switch m.Status {
		case MessageStatusSent:
			b.Sent++
		case MessageStatusScheduled:
			b.Scheduled++
		case MessageStatusFailed:
			b.Failed++
		}
	}
	return buckets
}
