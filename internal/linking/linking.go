// Package linking 定义与手机端聊天客户端的连接接口。
// 真实协议客户端与模拟器实现同一组接口，业务层不区分两者。
package linking

import (
	"context"
	"errors"
	"time"

	"msgdash/backend/internal/domain"
)

var (
	// ErrNotLinked 设备尚未完成绑定
	ErrNotLinked = errors.New("device is not linked")
	// ErrClosed 连接已关闭
	ErrClosed = errors.New("connection closed")
)

// Inbound 从设备收到的一条回复
type Inbound struct {
	MessageID string    // 被回复的消息 ID
	SenderID  string    // 回复人号码
	Content   string
	Timestamp time.Time
}

// InboundHandler 处理收到的回复，不返回错误
type InboundHandler func(ctx context.Context, in Inbound)

// StateHandler 会话状态变化回调
type StateHandler func(session domain.LinkSession)

// Sender 外发消息
type Sender interface {
	Send(ctx context.Context, msg *domain.Message) error
}

// Connection 一个设备连接
type Connection interface {
	Sender
	// Session 返回当前会话快照
	Session() domain.LinkSession
	// OnMessage 注册回复处理函数，后注册的覆盖先注册的
	OnMessage(h InboundHandler)
	Close() error
}

// Client 建立设备连接。返回的连接处于 pending 状态，扫码后进入 linked。
type Client interface {
	Connect(ctx context.Context, ownerID string, onState StateHandler) (Connection, error)
}
