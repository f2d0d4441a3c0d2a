package service

import (
	"context"
	"fmt"
	"time"

	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/storage"
)

// StatsService 计算统计，每次调用都重新扫描。
type StatsService struct {
	messages storage.MessageRepository
	replies  storage.ReplyRepository
	now      func() time.Time
}

// NewStatsService 创建统计服务。
func NewStatsService(messages storage.MessageRepository, replies storage.ReplyRepository) *StatsService {
	return &StatsService{
		messages: messages,
		replies:  replies,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 设置时钟，测试用
func (s *StatsService) SetClock(now func() time.Time) {
	s.now = now
}

// GetMessageStats 返回账号的消息统计。
func (s *StatsService) GetMessageStats(ctx context.Context, ownerID string) (domain.Stats, error) {
	messages, err := s.messages.ListMessages(ctx, ownerID)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("list messages: %w", err)
	}
	replies, err := s.replies.ListRepliesByOwner(ctx, ownerID)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("list replies: %w", err)
	}
	return domain.ComputeStats(messages, replies), nil
}

// Activity 返回最近 days 天每天的消息分布。
func (s *StatsService) Activity(ctx context.Context, ownerID string, days int) ([]domain.DailyActivity, error) {
	messages, err := s.messages.ListMessages(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return domain.ComputeDailyActivity(messages, days, s.now()), nil
}
