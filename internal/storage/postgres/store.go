package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"msgdash/backend/internal/domain"
)

// PoolOptions 连接池参数，零值使用默认值
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AutoMigrate 为 true 时启动即迁移表结构
	AutoMigrate bool
}

// Store 基于 GORM 的关系型存储实现，支持 PostgreSQL 与 MySQL
type Store struct {
	db  *gorm.DB
	seq sequence
}

// sequence 生成单调递增的排序号，以纳秒时间为基准，同一纳秒内继续递增
type sequence struct {
	last atomic.Int64
}

func (q *sequence) next() int64 {
	for {
		last := q.last.Load()
		n := time.Now().UnixNano()
		if n <= last {
			n = last + 1
		}
		if q.last.CompareAndSwap(last, n) {
			return n
		}
	}
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, opts PoolOptions) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), opts)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, opts PoolOptions) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), opts)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts PoolOptions) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	store := &Store{db: db}

	if opts.AutoMigrate {
		if err := store.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Message{},
		&domain.Reply{},
		&domain.LinkSession{},
	)
}

// DB 返回底层 *sql.DB，供健康检查使用
func (s *Store) DB() (*sql.DB, error) {
	return s.db.DB()
}

// ========== Message Repository ==========

// InsertMessage 插入新消息
func (s *Store) InsertMessage(ctx context.Context, message *domain.Message) error {
	message.Seq = s.seq.next()
	return s.db.WithContext(ctx).Create(message).Error
}

// GetMessage 根据 ID 获取消息
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var message domain.Message
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&message).Error
	if err != nil {
		return nil, translate(err, domain.ErrMessageNotFound)
	}
	return &message, nil
}

// UpdateMessage 在事务内 SELECT ... FOR UPDATE 后执行 fn 并保存。
// updated_at 由 fn 维护，GORM 不自动改写。
func (s *Store) UpdateMessage(ctx context.Context, id string, fn func(*domain.Message) error) (*domain.Message, error) {
	var updated domain.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&updated).Error; err != nil {
			return translate(err, domain.ErrMessageNotFound)
		}
		if err := fn(&updated); err != nil {
			return err
		}
		updated.ID = id
		return tx.Save(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteMessage 删除消息，回复不受影响
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// ListMessages 返回账号下的消息，最新在前，创建时间相同时后写入的在前
func (s *Store) ListMessages(ctx context.Context, ownerID string) ([]*domain.Message, error) {
	messages := make([]*domain.Message, 0)
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, seq DESC").
		Find(&messages).Error
	return messages, err
}

// ListDueMessages 返回已到期的定时消息
func (s *Store) ListDueMessages(ctx context.Context, before time.Time, limit int) ([]*domain.Message, error) {
	messages := make([]*domain.Message, 0)
	query := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_time <= ?", domain.MessageStatusScheduled, before).
		Order("scheduled_time ASC, seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&messages).Error
	return messages, err
}

// ========== Reply Repository ==========

// InsertReply 在父消息存在时写入回复
func (s *Store) InsertReply(ctx context.Context, reply *domain.Reply) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 持有父消息的共享锁，避免与删除交错
		var parent domain.Message
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id").
			Where("id = ?", reply.MessageID).
			First(&parent).Error; err != nil {
			return translate(err, domain.ErrMessageNotFound)
		}
		reply.Seq = s.seq.next()
		return tx.Create(reply).Error
	})
}

// ListRepliesByMessage 返回某条消息的回复，最早在前
func (s *Store) ListRepliesByMessage(ctx context.Context, messageID string) ([]*domain.Reply, error) {
	replies := make([]*domain.Reply, 0)
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC, seq ASC").
		Find(&replies).Error
	return replies, err
}

// ListRepliesByOwner 返回账号收到的全部回复
func (s *Store) ListRepliesByOwner(ctx context.Context, ownerID string) ([]*domain.Reply, error) {
	replies := make([]*domain.Reply, 0)
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, seq ASC").
		Find(&replies).Error
	return replies, err
}

// CountReplies 按消息分组统计回复数
func (s *Store) CountReplies(ctx context.Context, messageIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(messageIDs))
	for _, id := range messageIDs {
		counts[id] = 0
	}
	if len(messageIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		MessageID string
		Count     int
	}
	err := s.db.WithContext(ctx).
		Model(&domain.Reply{}).
		Select("message_id, COUNT(*) AS count").
		Where("message_id IN ?", messageIDs).
		Group("message_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.MessageID] = row.Count
	}
	return counts, nil
}

// DeleteRepliesByMessage 删除某条消息的全部回复
func (s *Store) DeleteRepliesByMessage(ctx context.Context, messageID string) (int, error) {
	result := s.db.WithContext(ctx).Where("message_id = ?", messageID).Delete(&domain.Reply{})
	return int(result.RowsAffected), result.Error
}

// ========== Session Repository ==========

// SaveSession 保存会话，同一账号的旧会话被替换
func (s *Store) SaveSession(ctx context.Context, session *domain.LinkSession) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ? AND id <> ?", session.OwnerID, session.ID).
			Delete(&domain.LinkSession{}).Error; err != nil {
			return err
		}
		return tx.Save(session).Error
	})
}

// GetSession 获取账号的绑定会话
func (s *Store) GetSession(ctx context.Context, ownerID string) (*domain.LinkSession, error) {
	var session domain.LinkSession
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&session).Error
	if err != nil {
		return nil, translate(err, domain.ErrSessionNotFound)
	}
	return &session, nil
}

// DeleteSession 删除账号的绑定会话
func (s *Store) DeleteSession(ctx context.Context, ownerID string) error {
	result := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&domain.LinkSession{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ========== 工具方法 ==========

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func translate(err, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}
