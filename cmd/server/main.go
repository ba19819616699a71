package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"pagepilot/internal/api"
	"pagepilot/internal/config"
	"pagepilot/internal/database/mysql"
	"pagepilot/internal/database/redis"
	"pagepilot/internal/embedding"
	"pagepilot/internal/graph"
	"pagepilot/internal/knowledge/pipeline"
	"pagepilot/internal/knowledge/splitters"
	"pagepilot/internal/knowledge/store"
	"pagepilot/internal/models"
	"pagepilot/internal/pages"
	"pagepilot/internal/reply"
	"pagepilot/internal/webhook"
	"pagepilot/pkg/logger"
)

func main() {
	configPath := os.Getenv("PAGEPILOT_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// 1. Load Configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Logger
	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	appLogger := logger.New("PagePilot", "", "")
	appLogger.Info("Starting PagePilot server...")

	callTimeout, err := time.ParseDuration(cfg.Webhook.CallTimeout)
	if err != nil {
		log.Fatalf("Invalid webhook.callTimeout: %v", err)
	}
	pageCacheTTL, err := time.ParseDuration(cfg.Webhook.PageCacheTTL)
	if err != nil {
		log.Fatalf("Invalid webhook.pageCacheTTL: %v", err)
	}

	// 3. Initialize Dependencies
	db, err := mysql.Connect(&cfg.MySQL)
	if err != nil {
		log.Fatalf("Failed to connect to MySQL: %v", err)
	}
	defer mysql.Close(db)

	err = db.AutoMigrate(
		&models.Page{},
		&models.TrackedPost{},
		&models.Resource{},
		&models.ResourceChunk{},
		&models.Comment{},
		&models.Reply{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	redisClient, err := redis.Connect(context.Background(), &cfg.Redis)
	if err != nil {
		// Redis only backs the page cache; the server can run without it.
		appLogger.WithError(err).Warn("Redis unavailable, page cache disabled")
		redisClient = nil
	}

	embedder, err := embedding.NewGoogleModel(cfg.Embedding.Gemini.APIKey, cfg.Embedding.Gemini.Model)
	if err != nil {
		log.Fatalf("Failed to create embedding client: %v", err)
	}

	generator, err := reply.NewGeminiGenerator(cfg.LLM.Gemini.APIKey, cfg.LLM.Gemini.Model)
	if err != nil {
		log.Fatalf("Failed to create reply generator: %v", err)
	}

	graphClient, err := graph.NewClient(&cfg.Graph, appLogger)
	if err != nil {
		log.Fatalf("Failed to create Graph API client: %v", err)
	}

	splitter, err := splitters.NewCharSplitter(cfg.Chunker.MaxChars, cfg.Chunker.Overlap)
	if err != nil {
		log.Fatalf("Invalid chunker config: %v", err)
	}

	// 4. Assemble the pipelines
	knowledgeStore := store.NewMySQLStore(db)
	indexing := pipeline.NewIndexingPipeline(splitter, embedder, knowledgeStore, cfg.Embedding.Dimension, appLogger)
	retrieval := pipeline.NewRetrievalPipeline(embedder, knowledgeStore, cfg.Retrieval.CandidateLimit, appLogger)

	pageStore := pages.NewStore(db, redisClient, pageCacheTTL, appLogger)
	eventStore := webhook.NewStore(db)
	ingestor := webhook.NewIngestor(pageStore, eventStore, appLogger)
	orchestrator := webhook.NewOrchestrator(
		retrieval,
		generator,
		graphClient,
		eventStore,
		cfg.Retrieval.TopK,
		cfg.Webhook.Workers,
		callTimeout,
		cfg.Webhook.FallbackReply,
		appLogger,
	)

	handlers := api.NewAPI(
		indexing,
		retrieval,
		knowledgeStore,
		pageStore,
		graphClient,
		ingestor,
		orchestrator,
		cfg.Graph.VerifyToken,
		cfg.Retrieval.TopK,
		appLogger,
	)

	// 5. Start the HTTP server
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.RegisterRoutes(router, handlers, cfg.Auth.JwtSecret)

	server := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}
	go func() {
		appLogger.Info("HTTP server listening at " + cfg.HTTP.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to serve HTTP: %v", err)
		}
	}()

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Forced shutdown")
	}
	appLogger.Info("Server gracefully stopped")
}
