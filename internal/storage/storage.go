package storage

import (
	"context"
	"time"

	"msgdash/backend/internal/domain"
)

// MessageRepository 定义消息数据存取操作。
// 列表按创建时间倒序返回（最新在前）。
type MessageRepository interface {
	InsertMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	// UpdateMessage 在独占访问下执行读-改-写，fn 返回错误时不落盘
	UpdateMessage(ctx context.Context, id string, fn func(*domain.Message) error) (*domain.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ListMessages(ctx context.Context, ownerID string) ([]*domain.Message, error)
	// ListDueMessages 返回 scheduledTime <= before 的定时消息，最早到期的在前
	ListDueMessages(ctx context.Context, before time.Time, limit int) ([]*domain.Message, error)
}

// ReplyRepository 定义回复数据存取操作。
// 列表按到达顺序返回（最早在前）。
type ReplyRepository interface {
	// InsertReply 父消息不存在时返回 domain.ErrMessageNotFound，且不写入任何记录
	InsertReply(ctx context.Context, reply *domain.Reply) error
	ListRepliesByMessage(ctx context.Context, messageID string) ([]*domain.Reply, error)
	ListRepliesByOwner(ctx context.Context, ownerID string) ([]*domain.Reply, error)
	CountReplies(ctx context.Context, messageIDs []string) (map[string]int, error)
	DeleteRepliesByMessage(ctx context.Context, messageID string) (int, error)
}

// SessionRepository 定义设备绑定会话存取操作，每个账号最多一个会话。
type SessionRepository interface {
	SaveSession(ctx context.Context, session *domain.LinkSession) error
	GetSession(ctx context.Context, ownerID string) (*domain.LinkSession, error)
	DeleteSession(ctx context.Context, ownerID string) error
}

// IdempotencyRepository 定义幂等键操作。
type IdempotencyRepository interface {
	// Claim 原子地占用 key。已被占用时返回先前记录的值和 false
	Claim(ctx context.Context, key, value string, ttl time.Duration) (existing string, claimed bool, err error)
	Release(ctx context.Context, key string) error
}

// Store 定义完整的存储接口。
type Store interface {
	MessageRepository
	ReplyRepository
	SessionRepository

	// 工具方法
	Close() error
	Health() error
}
