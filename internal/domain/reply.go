package domain

import "time"

// Reply 收件人对某条消息的回复。
// MessageID 是弱引用，父消息删除后回复可以继续存在。
type Reply struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID string    `json:"messageId" gorm:"type:varchar(36);index;not null"`
	OwnerID   string    `json:"ownerId" gorm:"type:varchar(64);index;not null"`
	SenderID  string    `json:"senderId" gorm:"type:varchar(64)"`
	Content   string    `json:"content" gorm:"type:text"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
	Seq       int64     `json:"-" gorm:"index"`
}
