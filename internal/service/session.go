package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/linking"
	"msgdash/backend/internal/monitoring"
	"msgdash/backend/internal/storage"
)

// SessionService 管理每个账号的设备连接，并作为外发消息的 linking.Sender。
type SessionService struct {
	client   linking.Client
	sessions storage.SessionRepository
	inbound  linking.InboundHandler

	notifier Notifier
	metrics  *monitoring.Metrics
	log      *zap.Logger

	connectMu sync.Mutex // 串行化 Connect/Disconnect

	mu    sync.RWMutex
	links map[string]*link
}

// link 一个账号当前的连接
type link struct {
	conn      linking.Connection
	sessionID string
	ready     chan struct{} // 登记完成后关闭
}

// NewSessionService 创建会话服务。inbound 处理设备推送的回复，可以为 nil。
func NewSessionService(client linking.Client, sessions storage.SessionRepository, inbound linking.InboundHandler, log *zap.Logger) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{
		client:   client,
		sessions: sessions,
		inbound:  inbound,
		notifier: nopNotifier{},
		log:      log,
		links:    make(map[string]*link),
	}
}

// SetNotifier 设置事件推送
func (s *SessionService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// SetMetrics 设置监控指标
func (s *SessionService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// Connect 为账号建立新的设备连接，已有连接会先被关闭。
// 返回 pending 状态的会话，其中包含二维码内容。
func (s *SessionService) Connect(ctx context.Context, ownerID string) (*domain.LinkSession, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if old := s.detach(ownerID); old != nil {
		if err := old.conn.Close(); err != nil {
			s.log.Warn("failed to close previous connection", zap.String("owner_id", ownerID), zap.Error(err))
		}
	}

	l := &link{ready: make(chan struct{})}
	conn, err := s.client.Connect(ctx, ownerID, func(session domain.LinkSession) {
		<-l.ready
		s.handleState(l, session)
	})
	if err != nil {
		return nil, err
	}
	if s.inbound != nil {
		conn.OnMessage(s.inbound)
	}

	session := conn.Session()
	l.conn = conn
	l.sessionID = session.ID

	if err := s.sessions.SaveSession(ctx, &session); err != nil {
		close(l.ready)
		_ = conn.Close()
		return nil, err
	}

	s.metrics.RecordSessionTransition(string(session.Status))
	s.log.Info("link session started", zap.String("owner_id", ownerID), zap.String("session_id", session.ID))
	s.notifier.Publish(ownerID, EventSessionUpdate, session)

	// 登记之后才处理状态回调，保证 pending 先于后续状态落库
	s.mu.Lock()
	s.links[ownerID] = l
	s.mu.Unlock()
	close(l.ready)

	return &session, nil
}

// handleState 把当前连接的状态变化写入存储并推送，已被替换的连接忽略
func (s *SessionService) handleState(l *link, session domain.LinkSession) {
	s.mu.RLock()
	current := s.links[session.OwnerID]
	s.mu.RUnlock()
	if current != l {
		return
	}

	if err := s.sessions.SaveSession(context.Background(), &session); err != nil {
		s.log.Warn("failed to persist link session",
			zap.String("session_id", session.ID),
			zap.String("status", string(session.Status)),
			zap.Error(err),
		)
	}
	if !session.Active() {
		s.mu.Lock()
		if s.links[session.OwnerID] == l {
			delete(s.links, session.OwnerID)
		}
		s.mu.Unlock()
	}

	s.metrics.RecordSessionTransition(string(session.Status))
	s.log.Info("link session changed",
		zap.String("owner_id", session.OwnerID),
		zap.String("session_id", session.ID),
		zap.String("status", string(session.Status)),
	)
	s.notifier.Publish(session.OwnerID, EventSessionUpdate, session)
}

// Get 返回账号的会话，优先使用在线连接的状态。
func (s *SessionService) Get(ctx context.Context, ownerID string) (*domain.LinkSession, error) {
	s.mu.RLock()
	l := s.links[ownerID]
	s.mu.RUnlock()
	if l != nil {
		session := l.conn.Session()
		return &session, nil
	}
	return s.sessions.GetSession(ctx, ownerID)
}

// Disconnect 断开账号的设备连接。
func (s *SessionService) Disconnect(ctx context.Context, ownerID string) (*domain.LinkSession, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	var session domain.LinkSession
	if l := s.detach(ownerID); l != nil {
		if err := l.conn.Close(); err != nil {
			return nil, err
		}
		session = l.conn.Session()
	} else {
		stored, err := s.sessions.GetSession(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		session = *stored
		if session.Active() {
			session.Status = domain.SessionStatusDisconnected
			session.UpdatedAt = time.Now().UTC()
		}
	}

	if err := s.sessions.SaveSession(ctx, &session); err != nil {
		return nil, err
	}

	s.metrics.RecordSessionTransition(string(session.Status))
	s.log.Info("link session disconnected", zap.String("owner_id", ownerID), zap.String("session_id", session.ID))
	s.notifier.Publish(ownerID, EventSessionUpdate, session)
	return &session, nil
}

// Send 通过消息所属账号的连接外发
func (s *SessionService) Send(ctx context.Context, msg *domain.Message) error {
	s.mu.RLock()
	l := s.links[msg.OwnerID]
	s.mu.RUnlock()
	if l == nil {
		return linking.ErrNotLinked
	}
	return l.conn.Send(ctx, msg)
}

// Close 关闭全部连接，并把会话标记为 disconnected
func (s *SessionService) Close() error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	links := s.links
	s.links = make(map[string]*link)
	s.mu.Unlock()

	var errs []error
	for ownerID, l := range links {
		if err := l.conn.Close(); err != nil {
			errs = append(errs, err)
			continue
		}
		session := l.conn.Session()
		if err := s.sessions.SaveSession(context.Background(), &session); err != nil {
			errs = append(errs, err)
		}
		s.log.Debug("link session closed on shutdown", zap.String("owner_id", ownerID))
	}
	return errors.Join(errs...)
}

func (s *SessionService) detach(ownerID string) *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.links[ownerID]
	delete(s.links, ownerID)
	return l
}
