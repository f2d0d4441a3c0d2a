package service

// 推送给前端的事件类型
const (
	EventMessageCreated = "message_created"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventReplyReceived  = "reply_received"
	EventSessionUpdate  = "session_update"
)

// Notifier 向某个账号的在线客户端推送事件，实现方不得阻塞调用方
type Notifier interface {
	Publish(ownerID, eventType string, payload interface{})
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, string, interface{}) {}
