package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginSwagger "github.com/swaggo/gin-swagger"
	swaggerFiles "github.com/swaggo/files"
	"go.uber.org/zap"

	"msgdash/backend/internal/config"
	"msgdash/backend/internal/health"
	"msgdash/backend/internal/middleware"
	"msgdash/backend/internal/monitoring"
	"msgdash/backend/internal/service"
	"msgdash/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	messages *service.MessageService
	replies  *service.ReplyService
	stats    *service.StatsService
	sessions *service.SessionService
	log      *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	MessageService *service.MessageService
	ReplyService   *service.ReplyService
	StatsService   *service.StatsService
	SessionService *service.SessionService
	OwnerAuth      *middleware.OwnerAuth
	WebSocketHub   *websocket.Hub            // 可选
	Health         *health.HealthChecker     // 可选
	Metrics        *monitoring.Metrics       // 可选
	RateLimiter    *middleware.IPRateLimiter // 可选，只作用于写接口
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	monitoringMiddleware := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitoringMiddleware.PanicRecovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	if deps.Metrics != nil {
		router.Use(monitoringMiddleware.HTTPMetrics())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		messages: deps.MessageService,
		replies:  deps.ReplyService,
		stats:    deps.StatsService,
		sessions: deps.SessionService,
		log:      log,
	}

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		checks, ok := deps.Health.CheckHealth()
		status, text := http.StatusOK, "ok"
		if !ok {
			status, text = http.StatusServiceUnavailable, "unavailable"
		}
		c.JSON(status, gin.H{"status": text, "checks": checks})
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	writes := []gin.HandlerFunc{middleware.ValidateContentType("application/json")}
	if deps.RateLimiter != nil {
		writes = append(writes, deps.RateLimiter.WritesOnly())
	}

	// V1 API
	v1 := router.Group("/v1")
	v1.Use(deps.OwnerAuth.RequireOwner())
	v1.Use(writes...)
	{
		// ========== Message Routes ==========
		messageRoutes := v1.Group("/messages")
		{
			messageRoutes.POST("", handler.createMessage)
			messageRoutes.GET("", handler.listMessages)
			messageRoutes.GET("/:id", handler.getMessage)
			messageRoutes.PATCH("/:id", handler.updateMessage)
			messageRoutes.DELETE("/:id", handler.deleteMessage)
			messageRoutes.POST("/:id/resend", handler.resendMessage)

			// 回复
			messageRoutes.GET("/:id/replies", handler.listMessageReplies)
			messageRoutes.POST("/:id/replies", handler.recordReply)
		}

		v1.GET("/replies", handler.listReplies)

		// ========== Stats Routes ==========
		v1.GET("/stats", handler.getStats)
		v1.GET("/stats/activity", handler.getActivity)

		// ========== Session Routes ==========
		sessionRoutes := v1.Group("/session")
		{
			sessionRoutes.POST("/connect", handler.connectSession)
			sessionRoutes.GET("", handler.getSession)
			sessionRoutes.DELETE("", handler.disconnectSession)
		}

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub, middleware.OwnerID))
		}
	}

	return router
}
