package domain

import "time"

// SessionStatus 设备绑定会话状态
type SessionStatus string

const (
	SessionStatusPending      SessionStatus = "pending"
	SessionStatusLinked       SessionStatus = "linked"
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusExpired      SessionStatus = "expired"
)

// LinkSession 表示一个账号与手机客户端的绑定会话，二维码扫描后进入 linked。
type LinkSession struct {
	ID        string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerID   string        `json:"ownerId" gorm:"type:varchar(64);uniqueIndex;not null"`
	QRCode    string        `json:"qrCode" gorm:"type:text"`
	Status    SessionStatus `json:"status" gorm:"type:varchar(16);not null"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
	LinkedAt  *time.Time    `json:"linkedAt,omitempty"`
}

// Active 会话是否仍可用（待扫描或已绑定）
func (s LinkSession) Active() bool {
	return s.Status == SessionStatusPending || s.Status == SessionStatusLinked
}
