package linking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"msgdash/backend/internal/domain"
)

// CannedReplies 模拟回复的内容池
var CannedReplies = []string{
	"Thanks for the message!",
	"Got it, will get back to you soon.",
	"Received 👍",
	"Thank you for reaching out!",
	"Ok, understood.",
	"Perfect timing!",
	"Will do, thanks!",
	"Appreciate the update 🙏",
}

// 每条消息最多模拟的回复人数
const maxSimulatedRepliers = 3

// SimulatorConfig 模拟器参数
type SimulatorConfig struct {
	ReplyDelayMin   time.Duration
	ReplyDelayMax   time.Duration
	PairingDelayMin time.Duration
	PairingDelayMax time.Duration
	QRTTL           time.Duration // <=0 表示二维码不过期
}

// Simulator 模拟手机端客户端：生成二维码、延迟完成扫码，并对外发消息注入随机回复。
type Simulator struct {
	cfg SimulatorConfig
	log *zap.Logger
	now func() time.Time

	mu      sync.Mutex
	rng     *mrand.Rand
	conns   map[*simConnection]struct{}
	stopped bool
}

// SimulatorOption 模拟器可选项
type SimulatorOption func(*Simulator)

// WithRand 指定随机源，测试中用于固定结果
func WithRand(rng *mrand.Rand) SimulatorOption {
	return func(s *Simulator) { s.rng = rng }
}

// WithClock 指定时钟
func WithClock(now func() time.Time) SimulatorOption {
	return func(s *Simulator) { s.now = now }
}

// NewSimulator 创建模拟器
func NewSimulator(cfg SimulatorConfig, log *zap.Logger, opts ...SimulatorOption) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Simulator{
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		rng:   mrand.New(mrand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		conns: make(map[*simConnection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect 创建一个待扫码的模拟连接
func (s *Simulator) Connect(_ context.Context, ownerID string, onState StateHandler) (Connection, error) {
	qr, err := GenerateQRPayload(s.now())
	if err != nil {
		return nil, err
	}

	now := s.now()
	conn := &simConnection{
		sim:     s,
		onState: onState,
		timers:  make(map[*time.Timer]struct{}),
		session: domain.LinkSession{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			QRCode:    qr,
			Status:    domain.SessionStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if s.cfg.QRTTL > 0 {
		conn.session.ExpiresAt = now.Add(s.cfg.QRTTL)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.conns[conn] = struct{}{}
	pairing := s.between(s.cfg.PairingDelayMin, s.cfg.PairingDelayMax)
	s.mu.Unlock()

	conn.mu.Lock()
	conn.schedule(pairing, conn.completePairing)
	if s.cfg.QRTTL > 0 {
		conn.schedule(s.cfg.QRTTL, conn.expire)
	}
	conn.mu.Unlock()

	s.log.Debug("simulated link session created",
		zap.String("session_id", conn.session.ID),
		zap.String("owner_id", ownerID),
		zap.Duration("pairing_delay", pairing),
	)
	return conn, nil
}

// Stop 关闭全部连接并取消所有未触发的定时器
func (s *Simulator) Stop() {
	s.mu.Lock()
	s.stopped = true
	conns := make([]*simConnection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// between 返回 [min, max] 内的随机时长，调用方持有 s.mu
func (s *Simulator) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int64N(int64(max-min)+1))
}

// pickReplies 选出回复人（收件人前缀）与回复内容
func (s *Simulator) pickReplies(msg *domain.Message) (time.Duration, []Inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.between(s.cfg.ReplyDelayMin, s.cfg.ReplyDelayMax)
	n := s.rng.IntN(maxSimulatedRepliers) + 1
	if n > len(msg.Recipients) {
		n = len(msg.Recipients)
	}

	replies := make([]Inbound, 0, n)
	for _, recipient := range msg.Recipients[:n] {
		replies = append(replies, Inbound{
			MessageID: msg.ID,
			SenderID:  recipient,
			Content:   CannedReplies[s.rng.IntN(len(CannedReplies))],
		})
	}
	return delay, replies
}

func (s *Simulator) forget(c *simConnection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// GenerateQRPayload 生成二维码内容：clientId,serverToken,publicKey,timestamp
func GenerateQRPayload(now time.Time) (string, error) {
	clientID, err := randomHex(16)
	if err != nil {
		return "", err
	}
	serverToken, err := randomHex(32)
	if err != nil {
		return "", err
	}
	publicKey, err := randomHex(32)
	if err != nil {
		return "", err
	}
	return clientID + "," + serverToken + "," + publicKey + "," + strconv.FormatInt(now.UnixMilli(), 10), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// simConnection 模拟连接
type simConnection struct {
	sim     *Simulator
	onState StateHandler

	mu      sync.Mutex
	session domain.LinkSession
	handler InboundHandler
	timers  map[*time.Timer]struct{}
	closed  bool
}

func (c *simConnection) Session() domain.LinkSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *simConnection) OnMessage(h InboundHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Send 已绑定时安排模拟回复，立即返回
func (c *simConnection) Send(_ context.Context, msg *domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.session.Status != domain.SessionStatusLinked {
		return ErrNotLinked
	}

	delay, replies := c.sim.pickReplies(msg)
	c.schedule(delay, func() { c.deliver(replies) })

	c.sim.log.Debug("simulated replies scheduled",
		zap.String("message_id", msg.ID),
		zap.Int("replies", len(replies)),
		zap.Duration("delay", delay),
	)
	return nil
}

func (c *simConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	c.setStatusLocked(domain.SessionStatusDisconnected)
	snapshot := c.session
	c.mu.Unlock()

	c.sim.forget(c)
	c.notify(snapshot)
	return nil
}

// schedule 注册一次性定时器，调用方持有 c.mu
func (c *simConnection) schedule(d time.Duration, fn func()) {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		delete(c.timers, t)
		c.mu.Unlock()
		fn()
	})
	c.timers[t] = struct{}{}
}

func (c *simConnection) completePairing() {
	c.mu.Lock()
	if c.closed || c.session.Status != domain.SessionStatusPending {
		c.mu.Unlock()
		return
	}
	now := c.sim.now()
	c.session.LinkedAt = &now
	c.setStatusLocked(domain.SessionStatusLinked)
	snapshot := c.session
	c.mu.Unlock()

	c.sim.log.Info("simulated device linked",
		zap.String("session_id", snapshot.ID),
		zap.String("owner_id", snapshot.OwnerID),
	)
	c.notify(snapshot)
}

func (c *simConnection) expire() {
	c.mu.Lock()
	if c.closed || c.session.Status != domain.SessionStatusPending {
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(domain.SessionStatusExpired)
	snapshot := c.session
	c.mu.Unlock()

	c.notify(snapshot)
}

func (c *simConnection) deliver(replies []Inbound) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return
	}

	for _, in := range replies {
		in.Timestamp = c.sim.now()
		h(context.Background(), in)
	}
}

func (c *simConnection) setStatusLocked(status domain.SessionStatus) {
	c.session.Status = status
	c.session.UpdatedAt = c.sim.now()
}

func (c *simConnection) notify(session domain.LinkSession) {
	if c.onState != nil {
		c.onState(session)
	}
}
