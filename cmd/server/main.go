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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"storybook-server/internal/ai"
	"storybook-server/internal/artifact"
	"storybook-server/internal/config"
	"storybook-server/internal/dispatcher"
	"storybook-server/internal/handler"
	"storybook-server/internal/middleware"
	"storybook-server/internal/pipeline"
	"storybook-server/internal/store"
	"storybook-server/pkg/logger"
)

func main() {
	// Загрузка переменных окружения (.env может отсутствовать в production)
	_ = godotenv.Load()

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		Service:  "storybook-server",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)
	log.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))
	log.Info("Configuration loaded", zap.String("sessionStore", cfg.SessionStoreDriver))

	// --- Session Store ---
	sessions, cleanup, err := setupSessionStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize session store", zap.Error(err))
	}
	defer cleanup()

	// --- Artifact Store ---
	artifacts, err := artifact.NewFSStore(cfg.ArtifactDir, cfg.ArtifactBaseURL, log)
	if err != nil {
		log.Fatal("Failed to initialize artifact store", zap.Error(err))
	}

	// --- AI Generator ---
	generator := ai.NewOpenAIGenerator(ai.Config{
		APIKey:     cfg.AIAPIKey,
		BaseURL:    cfg.AIBaseURL,
		Model:      cfg.AIModel,
		ImageModel: cfg.AIImageModel,
	}, log)

	// --- Pipeline & Dispatcher ---
	bookPipeline := pipeline.New(sessions, artifacts, generator, pipeline.Config{
		IllustrationWorkers: cfg.IllustrationWorkers,
		MaxAttempts:         cfg.AIMaxAttempts,
		BaseRetryDelay:      cfg.AIBaseRetryDelay,
		StageTimeout:        cfg.AITimeout,
	}, log)
	disp := dispatcher.New(sessions, bookPipeline, log)

	bookHandler := handler.NewBookHandler(sessions, bookPipeline, disp, log)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if os.Getenv("ENV") == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(middleware.ZapLogger(log))
	router.Use(gin.Recovery())

	// Configure CORS Middleware
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Health Check Endpoint
	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	// Готовые книги и иллюстрации раздаются как статика
	router.Static("/files", artifacts.BaseDir())

	// Register Application Routes
	api := router.Group(cfg.ServerBasePath)
	bookHandler.RegisterRoutes(api)

	// Prometheus Middleware применяем после регистрации роутов
	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	// --- Start HTTP Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	log.Info("Starting HTTP server", zap.Int("port", cfg.ServerPort))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Сначала дожидаемся активных прогонов пайплайна, потом гасим HTTP
	if err := disp.Shutdown(shutdownCtx); err != nil {
		log.Error("Dispatcher shutdown failed", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exiting")
}

// setupSessionStore выбирает реализацию хранилища сессий по конфигурации.
// Возвращает функцию освобождения ресурсов (закрытие пулов соединений).
func setupSessionStore(cfg *config.Config, log *zap.Logger) (store.SessionStore, func(), error) {
	switch cfg.SessionStoreDriver {
	case "redis":
		client, err := setupRedis(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisSessionStore(client, log), func() { client.Close() }, nil
	case "postgres":
		pool, err := setupPostgres(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		if err := store.ApplyMigrations(pool, log); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		return store.NewPgSessionStore(pool, log), func() { pool.Close() }, nil
	default:
		log.Warn("Using in-memory session store, sessions will not survive restarts")
		return store.NewMemorySessionStore(), func() {}, nil
	}
}

// setupPostgres инициализирует пул соединений PostgreSQL
func setupPostgres(cfg *config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create postgres connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping postgres database: %w", err)
	}

	log.Info("Connected to PostgreSQL", zap.String("host", cfg.DBHost), zap.String("database", cfg.DBName))
	return pool, nil
}

// setupRedis инициализирует клиент Redis
func setupRedis(cfg *config.Config, log *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}

	log.Info("Connected to Redis", zap.String("address", cfg.RedisAddr))
	return client, nil
}
