package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/api/handlers"
	"github.com/lexchat/backend/internal/cache/redis"
	"github.com/lexchat/backend/internal/conversation"
	"github.com/lexchat/backend/internal/ingestion"
	"github.com/lexchat/backend/internal/llm"
	"github.com/lexchat/backend/internal/metrics"
	"github.com/lexchat/backend/internal/middleware/ratelimit"
	"github.com/lexchat/backend/internal/middleware/security"
	"github.com/lexchat/backend/internal/middleware/validation"
	"github.com/lexchat/backend/internal/search"
	"github.com/lexchat/backend/internal/session"
	"github.com/lexchat/backend/internal/storage/sqlite"
	"github.com/lexchat/backend/internal/vector/milvus"
	"github.com/lexchat/backend/pkg/config"
	appLogger "github.com/lexchat/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting LexChat API server")

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.EnsureCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	var redisClient *redis.Client
	var embeddingCache search.EmbeddingCache
	var searchCache search.ResultCache
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		embeddingCache = redisClient
		searchCache = redisClient
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	corpus := search.NewCorpus()
	if err := corpus.Rebuild(sqliteClient); err != nil {
		appLogger.Warn("Failed to build keyword corpus", zap.Error(err))
	}

	vectorSearch := search.NewVectorSearch(
		llmClient,
		milvusClient,
		embeddingCache,
		cfg.Milvus.Namespace,
		cfg.Search.TopK,
		cfg.Search.ScoreThreshold,
	)
	keywordSearch := search.NewKeywordSearch(0)
	hybridSearch := search.NewHybridSearch(vectorSearch, cfg.Search.KeywordBoost, cfg.Search.TopK)
	processor := search.NewQueryProcessor(llmClient)
	router := search.NewRouter(processor, keywordSearch, vectorSearch, hybridSearch, corpus, searchCache)

	manager := conversation.NewManager(sqliteClient, llmClient, router)

	scanner := ingestion.NewScanner(sqliteClient)
	cleaner := ingestion.NewCleaner(sqliteClient, milvusClient, cfg.Milvus.Namespace)
	pipeline := ingestion.NewPipeline(
		scanner,
		sqliteClient,
		milvusClient,
		llmClient,
		cleaner,
		cfg.Milvus.Namespace,
		cfg.Ingestion.ChunkSize,
		cfg.Ingestion.ChunkOverlap,
		cfg.Ingestion.Workers,
	)
	pipeline.OnComplete = func() {
		if err := corpus.Rebuild(sqliteClient); err != nil {
			appLogger.Warn("Failed to rebuild keyword corpus", zap.Error(err))
		}
		if redisClient != nil {
			if err := redisClient.InvalidateSearchCache(context.Background()); err != nil {
				appLogger.Warn("Failed to invalidate search cache", zap.Error(err))
			}
		}
	}

	sessions := session.NewStore()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			sessions.Sweep(time.Hour)
		}
	}()

	metrics.Init()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	chatHandler := handlers.NewChatHandler(manager)
	ingestHandler := handlers.NewIngestHandler(pipeline, sessions)
	progressHandler := handlers.NewProgressHandler(sessions)

	api := app.Group("/api")

	api.Post("/chat", chatHandler.HandleChat)
	api.Get("/conversations", chatHandler.ListConversations)
	api.Get("/conversations/:id/messages", chatHandler.GetMessages)
	api.Put("/conversations/:id", chatHandler.RenameConversation)
	api.Delete("/conversations/:id", chatHandler.DeleteConversation)

	api.Post("/files/process", ingestHandler.HandleProcess)
	api.Post("/files/cancel/:session_id", ingestHandler.HandleCancel)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/progress/:session_id", websocket.New(progressHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
