package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"msgdash/backend/internal/monitoring"
)

// 超过该时长未访问的 IP 在下一次清理时移除
const visitorIdleTTL = 10 * time.Minute

// IPRateLimiter 按客户端 IP 的令牌桶限流
type IPRateLimiter struct {
	limit   rate.Limit
	burst   int
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter 创建限流器。rps<=0 时不限流
func NewIPRateLimiter(rps float64, burst int, metrics *monitoring.Metrics, log *zap.Logger) *IPRateLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IPRateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Allow 判断该 IP 是否还有令牌
func (l *IPRateLimiter) Allow(ip string) bool {
	if l.limit <= 0 {
		return true
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > visitorIdleTTL {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdleTTL {
				delete(l.visitors, key)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Middleware 超出限制时返回 429
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(c.ClientIP()) {
			c.Next()
			return
		}

		l.metrics.RecordRateLimitBlock(c.FullPath())
		l.log.Warn("rate limit exceeded",
			zap.String("ip", c.ClientIP()),
			zap.String("path", c.Request.URL.Path),
		)

		c.Header("X-RateLimit-Limit", strconv.Itoa(l.burst))
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"code": http.StatusTooManyRequests,
			"msg":  "请求过于频繁，请稍后再试",
		})
	}
}

// WritesOnly 只对写请求限流
func (l *IPRateLimiter) WritesOnly() gin.HandlerFunc {
	limit := l.Middleware()
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			limit(c)
		}
	}
}
