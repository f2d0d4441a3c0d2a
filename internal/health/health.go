package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"msgdash/backend/internal/storage"
)

// 默认 goroutine 上限，超过后存活检查失败
const defaultMaxGoroutines = 10000

// Pinger 可探活的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health  healthcheck.Handler
	store   storage.Store
	logger  *zap.Logger
	keys    []string
	checks  map[string]healthcheck.Check
	timeout time.Duration
}

// NewHealthChecker 创建健康检查器，存储健康作为就绪条件
func NewHealthChecker(store storage.Store, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		store:   store,
		logger:  logger,
		checks:  make(map[string]healthcheck.Check),
		timeout: 3 * time.Second,
	}

	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(defaultMaxGoroutines))
	hc.AddReadinessCheck("store", func() error {
		return hc.store.Health()
	})

	return hc
}

// AddReadinessCheck 添加就绪检查
func (hc *HealthChecker) AddReadinessCheck(name string, check healthcheck.Check) {
	hc.health.AddReadinessCheck(name, check)
	if _, exists := hc.checks[name]; !exists {
		hc.keys = append(hc.keys, name)
	}
	hc.checks[name] = check
}

// AddPinger 把可探活的依赖加入就绪检查
func (hc *HealthChecker) AddPinger(name string, p Pinger) {
	hc.AddReadinessCheck(name, PingCheck(p, hc.timeout))
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行全部就绪检查并返回各项结果
func (hc *HealthChecker) CheckHealth() (map[string]string, bool) {
	results := make(map[string]string, len(hc.keys)+1)
	healthy := true

	for _, name := range hc.keys {
		if err := hc.checks[name](); err != nil {
			healthy = false
			results[name] = fmt.Sprintf("ERROR: %v", err)
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		} else {
			results[name] = "OK"
		}
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results, healthy
}

// DatabaseHealthCheck 数据库健康检查
func DatabaseHealthCheck(db *sql.DB) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return db.PingContext(ctx)
	}
}

// PingCheck 带超时的探活检查
func PingCheck(p Pinger, timeout time.Duration) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		return p.Ping(ctx)
	}
}
