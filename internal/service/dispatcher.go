package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/linking"
	"msgdash/backend/internal/monitoring"
	"msgdash/backend/internal/pool"
	"msgdash/backend/internal/storage"
)

const (
	dispatchClaimPrefix = "dispatch:"
	dispatchClaimTTL    = 5 * time.Minute
)

// 派发结果
const (
	DispatchSent    = "sent"
	DispatchFailed  = "failed"
	DispatchSkipped = "skipped"
)

var errNoLongerScheduled = errors.New("message is no longer scheduled")

// Dispatcher 把到期的定时消息交给发送端。
type Dispatcher struct {
	messages  storage.MessageRepository
	sender    linking.Sender
	workers   *pool.WorkerPool // 为 nil 时顺序发送
	batchSize int

	claims   storage.IdempotencyRepository // 可选，多实例共享 Redis 时避免重复派发
	notifier Notifier

	// 未设置 claims 时用进程内集合防止同一消息被并发派发
	inflightMu sync.Mutex
	inflight   map[string]struct{}

	metrics  *monitoring.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewDispatcher 创建派发器。
func NewDispatcher(messages storage.MessageRepository, sender linking.Sender, workers *pool.WorkerPool, batchSize int, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		messages:  messages,
		sender:    sender,
		workers:   workers,
		batchSize: batchSize,
		notifier:  nopNotifier{},
		inflight:  make(map[string]struct{}),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClaimStore 设置跨实例的派发占用存储，应与其他用途的 key 隔离
func (d *Dispatcher) SetClaimStore(store storage.IdempotencyRepository) {
	d.claims = store
}

// SetNotifier 设置事件推送
func (d *Dispatcher) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	d.notifier = n
}

// SetMetrics 设置监控指标
func (d *Dispatcher) SetMetrics(m *monitoring.Metrics) {
	d.metrics = m
}

// SetClock 设置时钟，测试用
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Tick 供调度器周期调用
func (d *Dispatcher) Tick(ctx context.Context) {
	if _, err := d.DispatchDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.log.Error("dispatch due messages failed", zap.Error(err))
	}
}

// DispatchDue 派发一批到期消息，返回成功发送的数量。
// 发送成功标记为 sent，失败标记为 failed，已不处于 scheduled 的消息跳过。
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	due, err := d.messages.ListDueMessages(ctx, d.now(), d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var (
		wg   sync.WaitGroup
		sent atomic.Int64
	)
	for _, message := range due {
		message := message
		task := func() {
			defer wg.Done()
			if d.dispatch(ctx, message) {
				sent.Add(1)
			}
		}

		wg.Add(1)
		if d.workers == nil {
			task()
			continue
		}
		if err := d.workers.Submit(ctx, task); err != nil {
			wg.Done()
			wg.Wait()
			return int(sent.Load()), err
		}
	}
	wg.Wait()

	d.log.Debug("dispatched due messages", zap.Int("due", len(due)), zap.Int64("sent", sent.Load()))
	return int(sent.Load()), nil
}

// dispatch 发送单条消息并落库结果
func (d *Dispatcher) dispatch(ctx context.Context, message *domain.Message) bool {
	release, claimed := d.claim(ctx, message.ID)
	if !claimed {
		return false
	}
	defer release()

	// 取最新状态，期间可能已被修改或删除
	current, err := d.messages.GetMessage(ctx, message.ID)
	if err != nil || current.Status != domain.MessageStatusScheduled {
		d.metrics.RecordDispatch(DispatchSkipped)
		return false
	}

	sendErr := d.sender.Send(ctx, current.Clone())

	result := domain.MessageStatusSent
	if sendErr != nil {
		result = domain.MessageStatusFailed
	}
	updated, err := d.messages.UpdateMessage(ctx, current.ID, func(m *domain.Message) error {
		if m.Status != domain.MessageStatusScheduled {
			return errNoLongerScheduled
		}
		domain.MessagePatch{Status: &result}.Apply(m, d.now())
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNoLongerScheduled) && !errors.Is(err, domain.ErrMessageNotFound) {
			d.log.Error("failed to store dispatch result", zap.String("message_id", current.ID), zap.Error(err))
		}
		d.metrics.RecordDispatch(DispatchSkipped)
		return false
	}

	if sendErr != nil {
		d.metrics.RecordSendFailure()
		d.metrics.RecordDispatch(DispatchFailed)
		d.log.Warn("scheduled message failed",
			zap.String("message_id", current.ID),
			zap.Error(sendErr),
		)
	} else {
		d.metrics.RecordDispatch(DispatchSent)
		d.log.Info("scheduled message sent", zap.String("message_id", current.ID))
	}

	d.notifier.Publish(updated.OwnerID, EventMessageUpdated, updated.Clone())
	return sendErr == nil
}

// claim 占用待派发的消息，返回释放函数与是否占用成功
func (d *Dispatcher) claim(ctx context.Context, id string) (func(), bool) {
	if d.claims == nil {
		d.inflightMu.Lock()
		defer d.inflightMu.Unlock()
		if _, busy := d.inflight[id]; busy {
			d.metrics.RecordDispatch(DispatchSkipped)
			return nil, false
		}
		d.inflight[id] = struct{}{}
		return func() {
			d.inflightMu.Lock()
			delete(d.inflight, id)
			d.inflightMu.Unlock()
		}, true
	}

	key := dispatchClaimPrefix + id
	_, claimed, err := d.claims.Claim(ctx, key, id, dispatchClaimTTL)
	if err != nil {
		d.log.Warn("failed to claim message for dispatch", zap.String("message_id", id), zap.Error(err))
		d.metrics.RecordError("claim", "dispatcher")
		return nil, false
	}
	if !claimed {
		d.metrics.RecordDispatch(DispatchSkipped)
		return nil, false
	}
	return func() {
		_ = d.claims.Release(context.WithoutCancel(ctx), key)
	}, true
}
