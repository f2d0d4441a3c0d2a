package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/linking"
	"msgdash/backend/internal/monitoring"
	"msgdash/backend/internal/storage"
)

// ReplyService 维护回复与消息的对应关系。
type ReplyService struct {
	messages storage.MessageRepository
	replies  storage.ReplyRepository

	notifier Notifier
	metrics  *monitoring.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewReplyService 创建回复业务服务。
func NewReplyService(messages storage.MessageRepository, replies storage.ReplyRepository, log *zap.Logger) *ReplyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReplyService{
		messages: messages,
		replies:  replies,
		notifier: nopNotifier{},
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier 设置事件推送
func (s *ReplyService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// SetMetrics 设置监控指标
func (s *ReplyService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// SetClock 设置时钟，测试用
func (s *ReplyService) SetClock(now func() time.Time) {
	s.now = now
}

// RecordReplyInput 定义记录回复的输入。
type RecordReplyInput struct {
	MessageID string
	SenderID  string
	Content   string
	Timestamp time.Time // 为零值时取当前时间
}

// RecordReply 追加一条回复。
//
// 父消息不存在（含已被删除）时什么也不做，返回 (nil, nil)。
func (s *ReplyService) RecordReply(ctx context.Context, input RecordReplyInput) (*domain.Reply, error) {
	parent, err := s.messages.GetMessage(ctx, input.MessageID)
	if errors.Is(err, domain.ErrMessageNotFound) {
		s.drop(input.MessageID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	ts := input.Timestamp
	if ts.IsZero() {
		ts = now
	}
	reply := &domain.Reply{
		ID:        uuid.NewString(),
		MessageID: parent.ID,
		OwnerID:   parent.OwnerID,
		SenderID:  input.SenderID,
		Content:   input.Content,
		Timestamp: ts.UTC(),
		CreatedAt: now,
	}

	// 查询与写入之间消息可能被删除
	if err := s.replies.InsertReply(ctx, reply); err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			s.drop(input.MessageID)
			return nil, nil
		}
		return nil, err
	}

	s.metrics.RecordReplyRecorded()
	s.log.Debug("reply recorded",
		zap.String("message_id", reply.MessageID),
		zap.String("sender_id", reply.SenderID),
	)
	s.notifier.Publish(reply.OwnerID, EventReplyReceived, *reply)
	return reply, nil
}

func (s *ReplyService) drop(messageID string) {
	s.metrics.RecordReplyDropped()
	s.log.Debug("reply for unknown message ignored", zap.String("message_id", messageID))
}

// RepliesFor 返回某条消息的回复，最早在前。
func (s *ReplyService) RepliesFor(ctx context.Context, messageID string) ([]*domain.Reply, error) {
	return s.replies.ListRepliesByMessage(ctx, messageID)
}

// ListByOwner 返回账号收到的全部回复，最早在前。
func (s *ReplyService) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Reply, error) {
	return s.replies.ListRepliesByOwner(ctx, ownerID)
}

// HandleInbound 处理设备推送的回复，用作连接的 OnMessage 回调
func (s *ReplyService) HandleInbound(ctx context.Context, in linking.Inbound) {
	_, err := s.RecordReply(ctx, RecordReplyInput{
		MessageID: in.MessageID,
		SenderID:  in.SenderID,
		Content:   in.Content,
		Timestamp: in.Timestamp,
	})
	if err != nil {
		s.metrics.RecordError("record_reply", "reply")
		s.log.Warn("failed to record inbound reply",
			zap.String("message_id", in.MessageID),
			zap.Error(err),
		)
	}
}
