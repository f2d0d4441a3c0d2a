package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRecipients(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
		wantErr  error
	}{
		{"Adds plus prefix", []string{"15551234567"}, []string{"+15551234567"}, nil},
		{"Keeps existing prefix", []string{"+15551234567"}, []string{"+15551234567"}, nil},
		{"Trims whitespace", []string{"  4915112345678  "}, []string{"+4915112345678"}, nil},
		{"Drops empty entries", []string{"", "  ", "123"}, []string{"+123"}, nil},
		{"Keeps order", []string{"3", "+1", "2"}, []string{"+3", "+1", "+2"}, nil},
		{"Invalid - all empty", []string{"", " "}, nil, ErrEmptyRecipients},
		{"Invalid - nil", nil, nil, ErrEmptyRecipients},
		{"Invalid - too long", []string{strings.Repeat("1", 40)}, nil, ErrInvalidRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRecipients(tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		maxLen  int
		wantErr error
	}{
		{"Valid content", "hello", 10, nil},
		{"Valid without limit", strings.Repeat("a", 10000), 0, nil},
		{"Multibyte counts runes", "你好世界", 4, nil},
		{"Invalid - empty", "", 10, ErrEmptyContent},
		{"Invalid - whitespace only", " \n\t ", 10, ErrEmptyContent},
		{"Invalid - too long", "hello world", 5, ErrContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.content, tt.maxLen)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, "content", ve.Field)
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.NoError(t, ValidateSchedule(now.Add(time.Second), now))
	assert.ErrorIs(t, ValidateSchedule(now, now), ErrScheduleInPast)
	assert.ErrorIs(t, ValidateSchedule(now.Add(-time.Hour), now), ErrInvalidInput)
}

func TestValidateStatus(t *testing.T) {
	assert.NoError(t, ValidateStatus(MessageStatusSent))
	assert.NoError(t, ValidateStatus(MessageStatusScheduled))
	assert.NoError(t, ValidateStatus(MessageStatusFailed))
	assert.ErrorIs(t, ValidateStatus("delivered"), ErrUnknownStatus)
}

func TestMessagePatch_Apply(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	scheduled := now.Add(time.Hour)
	msg := &Message{
		ID:            "m1",
		Content:       "old",
		Recipients:    []string{"+1"},
		Status:        MessageStatusScheduled,
		ScheduledTime: &scheduled,
	}

	t.Run("标记为已发送时补写发送时间", func(t *testing.T) {
		m := msg.Clone()
		sent := MessageStatusSent
		MessagePatch{Status: &sent}.Apply(m, now)

		assert.Equal(t, MessageStatusSent, m.Status)
		require.NotNil(t, m.SentTime)
		assert.Equal(t, now, *m.SentTime)
		assert.Equal(t, now, m.UpdatedAt)
	})

	t.Run("未提供的字段保持不变", func(t *testing.T) {
		m := msg.Clone()
		content := "new"
		MessagePatch{Content: &content}.Apply(m, now)

		assert.Equal(t, "new", m.Content)
		assert.Equal(t, []string{"+1"}, m.Recipients)
		assert.Equal(t, MessageStatusScheduled, m.Status)
		assert.Nil(t, m.SentTime)
	})

	t.Run("克隆互不影响", func(t *testing.T) {
		m := msg.Clone()
		m.Recipients[0] = "+999"
		*m.ScheduledTime = now
		assert.Equal(t, "+1", msg.Recipients[0])
		assert.Equal(t, scheduled, *msg.ScheduledTime)
	})
}
