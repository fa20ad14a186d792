package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"storyboard-server/internal/artifact"
	"storyboard-server/internal/config"
	"storyboard-server/internal/generation"
	"storyboard-server/internal/handler"
	"storyboard-server/internal/messaging"
	"storyboard-server/internal/service"
	"storyboard-server/internal/store"
	"storyboard-server/pkg/taskmanager"
	"storyboard-server/shared/logger"
	sharedMiddleware "storyboard-server/shared/middleware"
)

var _ handler.StoryboardService = (*service.Orchestrator)(nil)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, OutputPath: cfg.LogOutput})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	zap.L().Info("Starting storyboard-server...")
	cfg.LogSummary(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Артефакты ---
	artifacts, closeArtifacts, err := setupArtifacts(ctx, cfg, log)
	if err != nil {
		zap.L().Fatal("Failed to initialize artifact store", zap.Error(err))
	}
	defer closeArtifacts()

	// --- Генерация и оркестрация ---
	gen, err := generation.NewFromConfig(ctx, cfg, log)
	if err != nil {
		zap.L().Fatal("Failed to initialize generation client", zap.Error(err))
	}
	sceneStore := store.NewSceneStore(log)
	tasks := taskmanager.New(taskmanager.Config{MaxTasks: cfg.MaxActiveTasks}, log)
	orchestrator := service.NewOrchestrator(gen, sceneStore, tasks, artifacts, log)

	// --- Очистка по расписанию ---
	janitor, err := artifact.NewJanitor(cfg.JanitorSchedule, log,
		artifact.PurgeJob(artifacts, cfg.ArtifactTTL),
		artifact.Job{
			Name: "task_cleanup",
			Run: func(context.Context) (int, error) {
				return tasks.CleanupTasks(time.Hour), nil
			},
		},
	)
	if err != nil {
		zap.L().Fatal("Failed to create artifact janitor", zap.Error(err), zap.String("schedule", cfg.JanitorSchedule))
	}
	janitor.Start()
	defer janitor.Stop()

	// --- RabbitMQ (опционально) ---
	if cfg.RabbitMQURL != "" {
		conn, err := messaging.ConnectRabbitMQ(ctx, cfg.RabbitMQURL, 5, 3*time.Second, log)
		if err != nil {
			zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer conn.Close()
		publisher, err := messaging.NewRabbitMQScenePublisher(conn, cfg.RabbitMQExchange, log)
		if err != nil {
			zap.L().Fatal("Failed to create scene event publisher", zap.Error(err))
		}
		defer publisher.Close()
		go messaging.NewForwarder(sceneStore, publisher, log).Run(ctx)
	} else {
		zap.L().Info("RABBITMQ_URL not set, scene events are not published")
	}

	// --- WebSocket ---
	wsManager := handler.NewConnectionManager(orchestrator.Snapshot, cfg.PublicBaseURL, log)
	events, unsubscribe := orchestrator.Subscribe(256)
	defer unsubscribe()
	go wsManager.Run(ctx, events)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(sharedMiddleware.GinZapLogger(log))
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = cfg.MaxUploadBytes

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	if cfg.OriginsAllowAll() {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", sharedMiddleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.NewStoryboardHandler(orchestrator, handler.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		PublicBaseURL:  cfg.PublicBaseURL,
	}, log).RegisterRoutes(router, sharedMiddleware.RateLimit(cfg.RateLimitPerMin, log))
	handler.NewWebSocketHandler(wsManager, cfg.AllowedOrigins, log).RegisterRoutes(router)

	// Метрики gin после регистрации роутов
	p.Use(router)

	// --- Start HTTP Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Экспорт архива с видео пишет долго
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.Port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Background tasks did not finish in time", zap.Error(err))
	}
	cancel()

	zap.L().Info("Server exiting")
}

// setupArtifacts создает хранилище артефактов по ARTIFACT_BACKEND.
func setupArtifacts(ctx context.Context, cfg *config.Config, log *zap.Logger) (artifact.Store, func(), error) {
	switch cfg.ArtifactBackend {
	case "redis":
		client, err := setupRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return artifact.NewRedisStore(client, cfg.RedisKeyPrefix, cfg.ArtifactTTL, log), func() {
			if err := client.Close(); err != nil {
				log.Error("Error closing Redis client", zap.Error(err))
			}
		}, nil
	default:
		fs, err := artifact.NewFileStore(cfg.ArtifactDir, log)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}

// setupRedis подключается к Redis с повторами.
func setupRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	maxRetries := cfg.RedisDialRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	retryDelay := 2 * time.Second
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		pingCancel()
		if lastErr == nil {
			zap.L().Info("Successfully connected to Redis", zap.String("addr", cfg.RedisAddr), zap.Int("attempt", attempt))
			return client, nil
		}
		zap.L().Warn("Redis ping failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(lastErr),
		)
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to Redis at %s after %d attempts: %w", cfg.RedisAddr, maxRetries, lastErr)
}
