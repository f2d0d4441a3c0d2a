package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"msgdash/backend/internal/auth/jwt"
	"msgdash/backend/internal/cache"
	"msgdash/backend/internal/config"
	"msgdash/backend/internal/health"
	"msgdash/backend/internal/linking"
	"msgdash/backend/internal/logger"
	"msgdash/backend/internal/middleware"
	"msgdash/backend/internal/monitoring"
	"msgdash/backend/internal/pool"
	"msgdash/backend/internal/scheduler"
	"msgdash/backend/internal/service"
	"msgdash/backend/internal/storage"
	"msgdash/backend/internal/storage/memory"
	"msgdash/backend/internal/storage/postgres"
	redisstore "msgdash/backend/internal/storage/redis"
	httptransport "msgdash/backend/internal/transport/http"
	"msgdash/backend/internal/websocket"
)

const version = "0.3.0"

// main 启动 HTTP API、事件推送与定时派发。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.FromConfig(cfg.Log, "msgdash-server"))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting msgdash server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Bool("demo_mode", cfg.DemoMode()),
	)

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 初始化存储层
	backend, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	store, closers := backend.store, backend.closers

	healthChecker := health.NewHealthChecker(store, log)
	for _, register := range backend.checks {
		register(healthChecker)
	}

	// 幂等键：配置了 Redis 时跨实例共享，否则使用本地缓存。
	// 派发占用只在多实例共享 Redis 时需要，单实例由派发器在进程内去重。
	var (
		idempotency    storage.IdempotencyRepository
		dispatchClaims storage.IdempotencyRepository
	)
	if cfg.Redis.Address != "" {
		redisClient, err := redisstore.New(&cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		closers = append(closers, redisClient.Close)
		healthChecker.AddPinger("redis", redisClient)
		idempotency = redisstore.NewIdempotencyStore(redisClient)
		dispatchClaims = idempotency
	} else {
		localCache := cache.NewLocalCache(10000, cfg.Messages.IdempotencyTTL)
		closers = append(closers, func() error { localCache.Stop(); return nil })
		idempotency = cache.NewIdempotencyStore(localCache)
		log.Info("using local idempotency cache")
	}

	// 事件推送
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)
	wsHub.SetMetrics(metrics)

	// 设备模拟器
	simulator := linking.NewSimulator(linking.SimulatorConfig{
		ReplyDelayMin:   cfg.Simulator.ReplyDelayMin,
		ReplyDelayMax:   cfg.Simulator.ReplyDelayMax,
		PairingDelayMin: cfg.Simulator.PairingDelayMin,
		PairingDelayMax: cfg.Simulator.PairingDelayMax,
		QRTTL:           cfg.Simulator.QRTTL,
	}, log.Named("simulator"))

	// 初始化服务层
	replyService := service.NewReplyService(store, store, log)
	replyService.SetNotifier(wsHub)
	replyService.SetMetrics(metrics)

	sessionService := service.NewSessionService(simulator, store, replyService.HandleInbound, log)
	sessionService.SetNotifier(wsHub)
	sessionService.SetMetrics(metrics)

	messageService := service.NewMessageService(store, store, sessionService, service.MessageOptions{
		ContentMax:     cfg.Messages.ContentMax,
		CascadeReplies: cfg.Messages.CascadeReplies,
		IdempotencyTTL: cfg.Messages.IdempotencyTTL,
	}, log)
	messageService.SetIdempotencyStore(idempotency)
	messageService.SetNotifier(wsHub)
	messageService.SetMetrics(metrics)

	statsService := service.NewStatsService(store, store)

	// 认证：未配置 JWT 时进入演示模式
	var jwtManager *jwt.Manager
	if !cfg.DemoMode() {
		jwtManager = jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry)
		log.Info("JWT configuration",
			zap.String("issuer", cfg.Auth.Issuer),
			zap.Duration("token_expiry", cfg.Auth.TokenExpiry),
		)
	} else {
		log.Warn("JWT secret not configured, all requests belong to the demo owner",
			zap.String("demo_owner", cfg.Auth.DemoOwner),
		)
	}

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		MessageService: messageService,
		ReplyService:   replyService,
		StatsService:   statsService,
		SessionService: sessionService,
		OwnerAuth:      middleware.NewOwnerAuth(jwtManager, cfg.Auth.DemoOwner, log),
		WebSocketHub:   wsHub,
		Health:         healthChecker,
		Metrics:        metrics,
		RateLimiter:    middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, metrics, log),
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 定时消息派发
	workers := pool.NewWorkerPool(cfg.Scheduler.Workers, cfg.Scheduler.BatchSize, log)
	workers.Start(groupCtx)

	dispatcher := service.NewDispatcher(store, sessionService, workers, cfg.Scheduler.BatchSize, log)
	if dispatchClaims != nil {
		dispatcher.SetClaimStore(dispatchClaims)
	}
	dispatcher.SetNotifier(wsHub)
	dispatcher.SetMetrics(metrics)

	var dispatchScheduler *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		dispatchScheduler, err = scheduler.New("dispatcher", cfg.Scheduler.Interval, dispatcher.Tick, log)
		if err != nil {
			log.Fatal("failed to create dispatcher scheduler", zap.Error(err))
		}
		dispatchScheduler.Start(groupCtx)
		log.Info("scheduled message dispatcher started",
			zap.Duration("interval", cfg.Scheduler.Interval),
			zap.Int("batch_size", cfg.Scheduler.BatchSize),
			zap.Int("workers", cfg.Scheduler.Workers),
		)
	}

	// 连接数监控
	if sqlStore, ok := store.(*postgres.Store); ok {
		gauge, err := scheduler.New("db-stats", 15*time.Second, func(context.Context) {
			sqlDB, err := sqlStore.DB()
			if err != nil {
				return
			}
			metrics.UpdateDatabaseConnections(sqlDB.Stats().OpenConnections)
		}, log)
		if err == nil {
			gauge.Start(groupCtx)
		}
	}

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if dispatchScheduler != nil {
			dispatchScheduler.Stop()
		}
		workers.Stop()

		if err := sessionService.Close(); err != nil {
			log.Warn("failed to close device connections", zap.Error(err))
		}
		simulator.Stop()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("failed to release resource", zap.Error(err))
			}
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// storageBackend 存储及其附带的资源
type storageBackend struct {
	store   storage.Store
	closers []func() error                   // 退出时逆序释放
	checks  []func(hc *health.HealthChecker) // 额外的就绪检查
}

// initializeStorage 按配置选择存储
func initializeStorage(cfg *config.Config, log *zap.Logger) (*storageBackend, error) {
	if cfg.Database.Type == "" {
		log.Info("using memory storage (development mode)")
		store := memory.NewStore()
		return &storageBackend{store: store, closers: []func() error{store.Close}}, nil
	}

	log.Info("initializing database storage", zap.String("database_type", cfg.Database.Type))

	opts := postgres.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		AutoMigrate:     cfg.Database.AutoMigrate,
	}

	var (
		store *postgres.Store
		err   error
	)
	switch cfg.Database.Type {
	case "postgres":
		store, err = postgres.NewStore(cfg.Database.DSN, opts)
	case "mysql":
		store, err = postgres.NewMySQLStore(cfg.Database.DSN, opts)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
	}
	if err != nil {
		return nil, err
	}
	backend := &storageBackend{store: store, closers: []func() error{store.Close}}

	if sqlDB, err := store.DB(); err == nil {
		backend.checks = append(backend.checks, func(hc *health.HealthChecker) {
			hc.AddReadinessCheck("database", health.DatabaseHealthCheck(sqlDB))
		})
	}

	// PostgreSQL 额外建立原生连接池用于探活
	if cfg.Database.Type == "postgres" {
		probe, err := postgres.New(&cfg.Database, log)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create database probe: %w", err)
		}
		backend.closers = append(backend.closers, func() error { probe.Close(); return nil })

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if v, err := probe.ServerVersion(ctx); err == nil {
			log.Info("database server version", zap.String("version", v))
		}
		cancel()

		backend.checks = append(backend.checks, func(hc *health.HealthChecker) {
			hc.AddPinger("postgres", probe)
		})
	}

	log.Info("database storage initialized successfully", zap.String("database_type", cfg.Database.Type))
	return backend, nil
}
