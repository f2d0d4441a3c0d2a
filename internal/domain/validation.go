package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// 各存储实现共用的错误定义
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrMessageNotFound  = errors.New("message not found")
	ErrSessionNotFound  = errors.New("link session not found")
	ErrEmptyContent     = errors.New("content must not be empty")
	ErrContentTooLong   = errors.New("content too long")
	ErrEmptyRecipients  = errors.New("at least one recipient is required")
	ErrScheduleInPast   = errors.New("scheduled time must be in the future")
	ErrScheduleRequired = errors.New("scheduled messages require a scheduled time")
	ErrUnknownStatus    = errors.New("unknown message status")
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// 校验常量
const (
	DefaultMaxContentLength = 4096
	MaxRecipients           = 256
	MaxRecipientLength      = 32
)

// ValidationError 输入校验失败，errors.Is(err, ErrInvalidInput) 为真
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

// Unwrap 同时暴露具体原因和 ErrInvalidInput
func (e *ValidationError) Unwrap() []error {
	return []error{e.Err, ErrInvalidInput}
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// NormalizeRecipients 去除空白、丢弃空项，并保证每个号码以 + 开头。
// 至少保留一个收件人，否则返回校验错误。
func NormalizeRecipients(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if !strings.HasPrefix(r, "+") {
			r = "+" + r
		}
		if len(r) > MaxRecipientLength {
			return nil, invalid("recipients", ErrInvalidRecipient)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, invalid("recipients", ErrEmptyRecipients)
	}
	if len(out) > MaxRecipients {
		return nil, invalid("recipients", fmt.Errorf("%w: at most %d", ErrInvalidRecipient, MaxRecipients))
	}
	return out, nil
}

// ValidateContent 内容不能为空（去除空白后），maxLen<=0 时不限制长度
func ValidateContent(content string, maxLen int) error {
	if strings.TrimSpace(content) == "" {
		return invalid("content", ErrEmptyContent)
	}
	if maxLen > 0 && utf8.RuneCountInString(content) > maxLen {
		return invalid("content", ErrContentTooLong)
	}
	return nil
}

// ValidateSchedule 定时时间必须晚于 now
func ValidateSchedule(at time.Time, now time.Time) error {
	if !at.After(now) {
		return invalid("scheduledTime", ErrScheduleInPast)
	}
	return nil
}

// ValidateStatus 状态必须是已知取值
func ValidateStatus(s MessageStatus) error {
	if !s.Valid() {
		return invalid("status", ErrUnknownStatus)
	}
	return nil
}

// ValidateState 校验合并补丁后的消息整体状态
func ValidateState(m *Message) error {
	if err := ValidateStatus(m.Status); err != nil {
		return err
	}
	if m.Status == MessageStatusScheduled && m.ScheduledTime == nil {
		return invalid("scheduledTime", ErrScheduleRequired)
	}
	return nil
}
