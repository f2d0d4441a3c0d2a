package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"msgdash/backend/internal/domain"
)

// Store 使用内存保存消息、回复与绑定会话，主要用于开发验证和测试。
// 所有写操作在同一把写锁下完整执行。
type Store struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message // messageID -> message
	order    []string                   // 最新消息在前

	replies   []*domain.Reply            // 按到达顺序
	byMessage map[string][]*domain.Reply // messageID -> replies

	sessions map[string]*domain.LinkSession // ownerID -> session
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		messages:  make(map[string]*domain.Message),
		byMessage: make(map[string][]*domain.Reply),
		sessions:  make(map[string]*domain.LinkSession),
	}
}

// InsertMessage 保存新消息并放到列表最前。
func (s *Store) InsertMessage(_ context.Context, message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[message.ID] = message.Clone()
	s.order = append([]string{message.ID}, s.order...)
	return nil
}

// GetMessage 根据 ID 获取消息副本。
func (s *Store) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return m.Clone(), nil
}

// UpdateMessage 在写锁内对消息副本执行 fn，成功后替换原记录。
func (s *Store) UpdateMessage(_ context.Context, id string, fn func(*domain.Message) error) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	draft := m.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	draft.ID = id
	s.messages[id] = draft
	return draft.Clone(), nil
}

// DeleteMessage 删除消息，回复保留。
func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return domain.ErrMessageNotFound
	}
	delete(s.messages, id)
	for i, mid := range s.order {
		if mid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListMessages 返回账号下全部消息，最新在前。
func (s *Store) ListMessages(_ context.Context, ownerID string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Message, 0)
	for _, id := range s.order {
		m := s.messages[id]
		if m.OwnerID == ownerID {
			result = append(result, m.Clone())
		}
	}
	return result, nil
}

// ListDueMessages 返回已到期的定时消息，最早到期的在前。
func (s *Store) ListDueMessages(_ context.Context, before time.Time, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	due := make([]*domain.Message, 0)
	for _, m := range s.messages {
		if m.Status == domain.MessageStatusScheduled && m.ScheduledTime != nil && !m.ScheduledTime.After(before) {
			due = append(due, m.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledTime.Before(*due[j].ScheduledTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// InsertReply 追加回复。父消息不存在时不写入。
func (s *Store) InsertReply(_ context.Context, reply *domain.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[reply.MessageID]; !ok {
		return domain.ErrMessageNotFound
	}
	cp := *reply
	s.replies = append(s.replies, &cp)
	s.byMessage[reply.MessageID] = append(s.byMessage[reply.MessageID], &cp)
	return nil
}

// ListRepliesByMessage 返回某条消息的回复，最早在前。
func (s *Store) ListRepliesByMessage(_ context.Context, messageID string) ([]*domain.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyReplies(s.byMessage[messageID]), nil
}

// ListRepliesByOwner 返回账号收到的全部回复，包括父消息已删除的回复。
func (s *Store) ListRepliesByOwner(_ context.Context, ownerID string) ([]*domain.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Reply, 0)
	for _, r := range s.replies {
		if r.OwnerID == ownerID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

// CountReplies 返回每条消息的回复数，未出现的 ID 计为 0。
func (s *Store) CountReplies(_ context.Context, messageIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(messageIDs))
	for _, id := range messageIDs {
		counts[id] = len(s.byMessage[id])
	}
	return counts, nil
}

// DeleteRepliesByMessage 删除某条消息的全部回复，返回删除数量。
func (s *Store) DeleteRepliesByMessage(_ context.Context, messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.byMessage[messageID])
	if removed == 0 {
		return 0, nil
	}
	delete(s.byMessage, messageID)

	kept := s.replies[:0]
	for _, r := range s.replies {
		if r.MessageID != messageID {
			kept = append(kept, r)
		}
	}
	// 清掉尾部残留指针
	for i := len(kept); i < len(s.replies); i++ {
		s.replies[i] = nil
	}
	s.replies = kept
	return removed, nil
}

// SaveSession 保存或覆盖账号的绑定会话。
func (s *Store) SaveSession(_ context.Context, session *domain.LinkSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.sessions[session.OwnerID] = &cp
	return nil
}

// GetSession 获取账号的绑定会话。
func (s *Store) GetSession(_ context.Context, ownerID string) (*domain.LinkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[ownerID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// DeleteSession 删除账号的绑定会话。
func (s *Store) DeleteSession(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[ownerID]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, ownerID)
	return nil
}

// Close 内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终可用。
func (s *Store) Health() error {
	return nil
}

func copyReplies(src []*domain.Reply) []*domain.Reply {
	result := make([]*domain.Reply, 0, len(src))
	for _, r := range src {
		cp := *r
		result = append(result, &cp)
	}
	return result
}
