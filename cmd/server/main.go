package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fast_focus/internal/config"
	"fast_focus/internal/gateway"
	"fast_focus/internal/handler"
	"fast_focus/internal/middleware"
	"fast_focus/internal/repository"
	"fast_focus/internal/service"
	"fast_focus/internal/webhook"
	"fast_focus/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)

	// Подключение к PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Failed to parse database DSN", "error", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()

	// Проверка подключения к БД
	if err := dbPool.Ping(context.Background()); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	appLogger.Info("Database connection established")

	// Подключение к Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Проверка подключения к Redis
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	// Инициализация репозиториев
	repos := repository.NewRepositories(dbPool, rdb, appLogger)

	// Инициализация сервисов
	services := service.NewServices(repos, appLogger)

	// Ядро реального времени и диспетчер вебхуков
	gw := gateway.New(services.Presence, services.Conversation, services.Message, appLogger)
	dispatcher := webhook.NewDispatcher(repos.WebhookDelivery, repos.Settings, appLogger,
		webhook.WithHTTPClient(&http.Client{Timeout: cfg.Webhook.Timeout}),
	)

	// Инициализация middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.AccessSecret, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)

	// Инициализация handlers
	handlers := handler.NewHandlers(services, gw, dispatcher, authMiddleware, cfg, appLogger)

	// Настройка роутера
	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	// Фоновая уборка presence: пользователи, зависшие online после обрыва
	// соединения, переводятся в offline.
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go runPresenceReaper(reaperCtx, services.Presence, cfg.Presence, appLogger)

	// Запуск HTTP сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	stopReaper()
	gw.Shutdown()
	dispatcher.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func runPresenceReaper(ctx context.Context, presence service.PresenceService, cfg config.PresenceConfig, log logger.Logger) {
	ticker := time.NewTicker(cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if _, err := presence.ReapStale(reapCtx, cfg.StaleThreshold); err != nil {
				log.Error("Presence reap failed", "error", err)
			}
			cancel()
		}
	}
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler())

	// Health check
	router.GET("/health", handlers.Health.Check)

	// API v1
	v1 := router.Group("/api/v1")
	{
		protected := v1.Group("")
		protected.Use(authMiddleware.RequireAuth())
		{
			// Пользователи и presence
			users := protected.Group("/users")
			{
				users.GET("/search", handlers.User.Search)
				users.GET("/online", handlers.User.Online)
				users.GET("/:id/presence", handlers.User.GetPresence)
				users.PUT("/me/chat-status", handlers.User.UpdateChatStatus)
			}

			// Чат
			chat := protected.Group("/chat")
			{
				chat.POST("/conversations", handlers.Conversation.Create)
				chat.GET("/conversations", handlers.Conversation.List)
				chat.GET("/conversations/:id", handlers.Conversation.GetByID)
				chat.POST("/conversations/:id/read", handlers.Conversation.MarkAllRead)

				chat.GET("/conversations/:id/messages", handlers.Message.List)
				chat.POST("/conversations/:id/messages", rateLimitMiddleware.Limit(), handlers.Message.Send)
				chat.PUT("/messages/:messageId", handlers.Message.Edit)
				chat.DELETE("/messages/:messageId", handlers.Message.Delete)
				chat.POST("/messages/:messageId/read", handlers.Message.MarkRead)
			}

			// События таймера и журнал вебхуков
			protected.POST("/pomodoro/events", handlers.Pomodoro.PublishEvent)

			webhooks := protected.Group("/webhooks")
			{
				webhooks.GET("/deliveries", handlers.Webhook.ListDeliveries)
				webhooks.POST("/deliveries/:id/retry", handlers.Webhook.RetryDelivery)
				webhooks.POST("/test", rateLimitMiddleware.LimitWith(10, time.Minute), handlers.Webhook.Test)
			}
		}
	}

	// WebSocket endpoint
	router.GET("/ws", handlers.WebSocket.Handle)

	return router
}
