package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/linking"
	"msgdash/backend/internal/monitoring"
	"msgdash/backend/internal/storage"
)

var (
	ErrNotResendable       = errors.New("only failed messages can be resent")
	ErrIdempotencyConflict = errors.New("request with this idempotency key is still in progress")
)

// MessageOptions 消息业务参数
type MessageOptions struct {
	ContentMax     int           // <=0 时使用 domain.DefaultMaxContentLength
	CascadeReplies bool          // 删除消息时同时删除回复
	IdempotencyTTL time.Duration // 幂等键保留时间
}

// MessageService 封装消息的创建、修改、删除与查询。
type MessageService struct {
	messages storage.MessageRepository
	replies  storage.ReplyRepository
	sender   linking.Sender
	opts     MessageOptions

	idempotency storage.IdempotencyRepository // 可选
	notifier    Notifier
	metrics     *monitoring.Metrics
	log         *zap.Logger
	now         func() time.Time
}

// NewMessageService 创建消息业务服务。sender 为 nil 时即时消息只落库不外发。
func NewMessageService(messages storage.MessageRepository, replies storage.ReplyRepository, sender linking.Sender, opts MessageOptions, log *zap.Logger) *MessageService {
	if opts.ContentMax <= 0 {
		opts.ContentMax = domain.DefaultMaxContentLength
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{
		messages: messages,
		replies:  replies,
		sender:   sender,
		opts:     opts,
		notifier: nopNotifier{},
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetIdempotencyStore 设置幂等键存储
func (s *MessageService) SetIdempotencyStore(store storage.IdempotencyRepository) {
	s.idempotency = store
}

// SetNotifier 设置事件推送
func (s *MessageService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// SetMetrics 设置监控指标
func (s *MessageService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// SetClock 设置时钟，测试用
func (s *MessageService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateMessageInput 定义创建消息的输入。
type CreateMessageInput struct {
	OwnerID        string
	Content        string
	Recipients     []string
	ScheduledTime  *time.Time // 为空表示立即发送
	IdempotencyKey string
}

// Create 新建一条消息。
//
// 带定时时间的消息进入 scheduled，否则直接标记为 sent 并交给发送端。
// 发送失败只记录日志，不影响返回结果。
func (s *MessageService) Create(ctx context.Context, input CreateMessageInput) (*domain.Message, error) {
	if err := domain.ValidateContent(input.Content, s.opts.ContentMax); err != nil {
		return nil, err
	}
	recipients, err := domain.NormalizeRecipients(input.Recipients)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if input.ScheduledTime != nil {
		if err := domain.ValidateSchedule(*input.ScheduledTime, now); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()

	if input.IdempotencyKey != "" && s.idempotency != nil {
		key := input.OwnerID + ":" + input.IdempotencyKey
		existing, claimed, claimErr := s.idempotency.Claim(ctx, key, id, s.opts.IdempotencyTTL)
		if claimErr != nil {
			return nil, fmt.Errorf("claim idempotency key: %w", claimErr)
		}
		if !claimed {
			return s.replay(ctx, existing)
		}
		defer func() {
			if err != nil {
				if releaseErr := s.idempotency.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
					s.log.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(releaseErr))
				}
			}
		}()
	}

	message := &domain.Message{
		ID:         id,
		OwnerID:    input.OwnerID,
		Content:    input.Content,
		Recipients: recipients,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if input.ScheduledTime != nil {
		at := input.ScheduledTime.UTC()
		message.Status = domain.MessageStatusScheduled
		message.ScheduledTime = &at
	} else {
		sentAt := now
		message.Status = domain.MessageStatusSent
		message.SentTime = &sentAt
	}

	if err = s.messages.InsertMessage(ctx, message); err != nil {
		return nil, err
	}

	s.metrics.RecordMessageCreated(string(message.Status))
	s.log.Info("message created",
		zap.String("message_id", message.ID),
		zap.String("owner_id", message.OwnerID),
		zap.String("status", string(message.Status)),
		zap.Int("recipients", len(message.Recipients)),
	)

	if message.Status == domain.MessageStatusSent {
		s.sendDetached(ctx, message)
	}

	s.notifier.Publish(message.OwnerID, EventMessageCreated, message.Clone())
	return message, nil
}

// replay 返回同一幂等键先前创建的消息
func (s *MessageService) replay(ctx context.Context, id string) (*domain.Message, error) {
	message, err := s.Get(ctx, id)
	if errors.Is(err, domain.ErrMessageNotFound) {
		// 先前的请求尚未落库
		return nil, ErrIdempotencyConflict
	}
	return message, err
}

// sendDetached 外发消息，错误只记录
func (s *MessageService) sendDetached(ctx context.Context, message *domain.Message) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(context.WithoutCancel(ctx), message.Clone()); err != nil {
		s.metrics.RecordSendFailure()
		s.log.Warn("failed to hand message to device",
			zap.String("message_id", message.ID),
			zap.Error(err),
		)
	}
}

// UpdateMessageInput 定义修改消息的输入，nil 字段表示不修改。
type UpdateMessageInput struct {
	Content       *string
	Recipients    []string
	Status        *domain.MessageStatus
	ScheduledTime *time.Time
	SentTime      *time.Time
}

// Update 合并修改并刷新 updatedAt。并发修改以最后一次为准。
func (s *MessageService) Update(ctx context.Context, id string, input UpdateMessageInput) (*domain.Message, error) {
	patch := domain.MessagePatch{
		Content:       input.Content,
		Status:        input.Status,
		ScheduledTime: input.ScheduledTime,
		SentTime:      input.SentTime,
	}

	if patch.Content != nil {
		if err := domain.ValidateContent(*patch.Content, s.opts.ContentMax); err != nil {
			return nil, err
		}
	}
	if input.Recipients != nil {
		recipients, err := domain.NormalizeRecipients(input.Recipients)
		if err != nil {
			return nil, err
		}
		patch.Recipients = recipients
	}
	if patch.Status != nil {
		if err := domain.ValidateStatus(*patch.Status); err != nil {
			return nil, err
		}
	}

	if patch.Empty() {
		return s.Get(ctx, id)
	}

	updated, err := s.messages.UpdateMessage(ctx, id, func(m *domain.Message) error {
		patch.Apply(m, s.now())
		return domain.ValidateState(m)
	})
	if err != nil {
		return nil, err
	}

	if err := s.withReplyCounts(ctx, updated); err != nil {
		return nil, err
	}

	s.metrics.RecordMessageUpdated()
	s.notifier.Publish(updated.OwnerID, EventMessageUpdated, updated.Clone())
	return updated, nil
}

// Delete 删除消息。默认保留其回复，开启级联后一并删除。
func (s *MessageService) Delete(ctx context.Context, id string) error {
	message, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if err := s.messages.DeleteMessage(ctx, id); err != nil {
		return err
	}

	if s.opts.CascadeReplies {
		removed, err := s.replies.DeleteRepliesByMessage(ctx, id)
		if err != nil {
			return fmt.Errorf("delete replies of %s: %w", id, err)
		}
		s.log.Debug("cascaded reply delete", zap.String("message_id", id), zap.Int("replies", removed))
	}

	s.metrics.RecordMessageDeleted()
	s.notifier.Publish(message.OwnerID, EventMessageDeleted, map[string]string{"id": id})
	return nil
}

// Get 获取单条消息，附带回复数。
func (s *MessageService) Get(ctx context.Context, id string) (*domain.Message, error) {
	message, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.withReplyCounts(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

// List 列出账号下全部消息，最新在前，每条附带回复数。
func (s *MessageService) List(ctx context.Context, ownerID string) ([]*domain.Message, error) {
	messages, err := s.messages.ListMessages(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.withReplyCounts(ctx, messages...); err != nil {
		return nil, err
	}
	return messages, nil
}

// Resend 重新发送失败的消息，发送成功后标记为 sent。
func (s *MessageService) Resend(ctx context.Context, id string) (*domain.Message, error) {
	message, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if message.Status != domain.MessageStatusFailed {
		return nil, ErrNotResendable
	}
	if s.sender == nil {
		return nil, linking.ErrNotLinked
	}
	if err := s.sender.Send(ctx, message.Clone()); err != nil {
		s.metrics.RecordSendFailure()
		return nil, fmt.Errorf("resend message: %w", err)
	}

	status := domain.MessageStatusSent
	updated, err := s.messages.UpdateMessage(ctx, id, func(m *domain.Message) error {
		if m.Status != domain.MessageStatusFailed {
			return ErrNotResendable
		}
		now := s.now()
		m.SentTime = &now
		domain.MessagePatch{Status: &status}.Apply(m, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.withReplyCounts(ctx, updated); err != nil {
		return nil, err
	}

	s.log.Info("message resent", zap.String("message_id", id))
	s.notifier.Publish(updated.OwnerID, EventMessageUpdated, updated.Clone())
	return updated, nil
}

// withReplyCounts 按回复记录重新计算 replyCount
func (s *MessageService) withReplyCounts(ctx context.Context, messages ...*domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	counts, err := s.replies.CountReplies(ctx, ids)
	if err != nil {
		return fmt.Errorf("count replies: %w", err)
	}
	for _, m := range messages {
		m.ReplyCount = counts[m.ID]
	}
	return nil
}
