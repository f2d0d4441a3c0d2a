package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "msgdash"

// Metrics 监控指标，注册在独立的 Registry 上。
// 所有 Record/Update 方法允许 nil 接收者，未启用监控时调用方无需判断。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 消息指标
	MessagesCreated    *prometheus.CounterVec // status
	MessagesUpdated    prometheus.Counter
	MessagesDeleted    prometheus.Counter
	MessagesDispatched *prometheus.CounterVec // result
	SendFailures       prometheus.Counter

	// 回复指标
	RepliesRecorded prometheus.Counter
	RepliesDropped  prometheus.Counter

	// 设备会话指标
	SessionTransitions *prometheus.CounterVec // status

	// 连接指标
	WebsocketClients    prometheus.Gauge
	DatabaseConnections prometheus.Gauge

	// 错误指标
	ErrorsTotal     *prometheus.CounterVec
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，同时注册 Go 运行时与进程指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MessagesCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_created_total",
				Help:      "Total number of messages created",
			},
			[]string{"status"},
		),
		MessagesUpdated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_updated_total",
			Help:      "Total number of message updates",
		}),
		MessagesDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deleted_total",
			Help:      "Total number of messages deleted",
		}),
		MessagesDispatched: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dispatched_total",
				Help:      "Scheduled messages processed by the dispatcher",
			},
			[]string{"result"},
		),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound sends rejected by the device connection",
		}),

		RepliesRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_recorded_total",
			Help:      "Total number of replies recorded",
		}),
		RepliesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_dropped_total",
			Help:      "Replies dropped because the message no longer exists",
		}),

		SessionTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_session_transitions_total",
				Help:      "Link session state transitions",
			},
			[]string{"status"},
		),

		WebsocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Number of connected websocket clients",
		}),
		DatabaseConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections",
			Help:      "Number of open database connections",
		}),

		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "component"},
		),
		PanicsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_total",
			Help:      "Total number of recovered panics",
		}),
		RateLimitBlocks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_blocks_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMessageCreated 记录消息创建
func (m *Metrics) RecordMessageCreated(status string) {
	if m == nil {
		return
	}
	m.MessagesCreated.WithLabelValues(status).Inc()
}

// RecordMessageUpdated 记录消息更新
func (m *Metrics) RecordMessageUpdated() {
	if m == nil {
		return
	}
	m.MessagesUpdated.Inc()
}

// RecordMessageDeleted 记录消息删除
func (m *Metrics) RecordMessageDeleted() {
	if m == nil {
		return
	}
	m.MessagesDeleted.Inc()
}

// RecordDispatch 记录定时派发结果：sent / failed / skipped
func (m *Metrics) RecordDispatch(result string) {
	if m == nil {
		return
	}
	m.MessagesDispatched.WithLabelValues(result).Inc()
}

// RecordSendFailure 记录外发失败
func (m *Metrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

// RecordReplyRecorded 记录回复写入
func (m *Metrics) RecordReplyRecorded() {
	if m == nil {
		return
	}
	m.RepliesRecorded.Inc()
}

// RecordReplyDropped 记录被丢弃的回复
func (m *Metrics) RecordReplyDropped() {
	if m == nil {
		return
	}
	m.RepliesDropped.Inc()
}

// RecordSessionTransition 记录会话状态变化
func (m *Metrics) RecordSessionTransition(status string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(status).Inc()
}

// UpdateWebsocketClients 更新 websocket 连接数
func (m *Metrics) UpdateWebsocketClients(count int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Set(float64(count))
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	if m == nil {
		return
	}
	m.DatabaseConnections.Set(float64(count))
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(endpoint).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
