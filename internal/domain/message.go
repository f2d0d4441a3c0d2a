package domain

import "time"

// MessageStatus 消息状态
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"      // 已发送
	MessageStatusScheduled MessageStatus = "scheduled" // 定时待发
	MessageStatusFailed    MessageStatus = "failed"    // 发送失败，可重发
)

// Valid 判断状态是否为已知取值
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusSent, MessageStatusScheduled, MessageStatusFailed:
		return true
	}
	return false
}

// Message 表示一条外发消息。
type Message struct {
	ID            string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerID       string        `json:"ownerId" gorm:"type:varchar(64);index;not null"`
	Content       string        `json:"content" gorm:"type:text;not null"`
	Recipients    []string      `json:"recipients" gorm:"serializer:json;type:text;not null"`
	Status        MessageStatus `json:"status" gorm:"type:varchar(16);index:idx_messages_due,priority:1;not null"`
	ScheduledTime *time.Time    `json:"scheduledTime,omitempty" gorm:"index:idx_messages_due,priority:2"`
	SentTime      *time.Time    `json:"sentTime,omitempty"`
	CreatedAt     time.Time     `json:"createdAt" gorm:"index"`
	UpdatedAt     time.Time     `json:"updatedAt" gorm:"autoUpdateTime:false"`
	// Seq 同一创建时间内的写入顺序，仅关系型存储使用
	Seq int64 `json:"-" gorm:"index"`
	// 派生字段，读取时按回复重新计算，不落库
	ReplyCount int `json:"replyCount" gorm:"-"`
}

// Clone 返回消息的深拷贝，存储层对外只交出副本
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Recipients = append([]string(nil), m.Recipients...)
	if m.ScheduledTime != nil {
		t := *m.ScheduledTime
		cp.ScheduledTime = &t
	}
	if m.SentTime != nil {
		t := *m.SentTime
		cp.SentTime = &t
	}
	return &cp
}

// MessagePatch 部分更新，nil 字段表示不修改
type MessagePatch struct {
	Content       *string
	Recipients    []string
	Status        *MessageStatus
	ScheduledTime *time.Time
	SentTime      *time.Time
}

// Empty 是否没有任何字段需要更新
func (p MessagePatch) Empty() bool {
	return p.Content == nil && p.Recipients == nil && p.Status == nil &&
		p.ScheduledTime == nil && p.SentTime == nil
}

// Apply 将补丁合并到消息上，不做校验
func (p MessagePatch) Apply(m *Message, now time.Time) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Recipients != nil {
		m.Recipients = append([]string(nil), p.Recipients...)
	}
	if p.ScheduledTime != nil {
		t := *p.ScheduledTime
		m.ScheduledTime = &t
	}
	if p.SentTime != nil {
		t := *p.SentTime
		m.SentTime = &t
	}
	if p.Status != nil {
		m.Status = *p.Status
		if m.Status == MessageStatusSent && m.SentTime == nil {
			t := now
			m.SentTime = &t
		}
	}
	m.UpdatedAt = now
}
