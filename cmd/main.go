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
	"github.com/hibiken/asynq"

	"contract-archive-platform/internal/ai"
	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/internal/search"
	"contract-archive-platform/internal/telemetry"
	"contract-archive-platform/internal/vectorstore"
	"contract-archive-platform/middleware"
	"contract-archive-platform/routes"
	"contract-archive-platform/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Connect to Postgres and migrate the schema
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Postgres:", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Failed to access connection pool:", err)
	}
	defer sqlDB.Close()
	store := database.NewStore(db)

	// Storage paths must be writable before the API accepts uploads
	storage := services.NewFileStorage(cfg)
	if err := storage.EnsureDirs(); err != nil {
		log.Fatal("Failed to prepare upload directories:", err)
	}

	index, err := vectorstore.Open(cfg.FaissIndexPath, cfg.VectorDim)
	if err != nil {
		log.Fatal("Failed to open vector index:", err)
	}

	// Redis backs rate limiting, processing locks and the task queue. The
	// API stays up without it; uploads then report queueing failures.
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting disabled", "error", err)
		rdb = nil
	}

	engine, err := search.New(cfg)
	if err != nil {
		log.Fatal("Failed to initialize Elasticsearch client:", err)
	}
	if engine.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := engine.EnsureIndices(ctx); err != nil {
			logger.Warn("elasticsearch index setup failed", "error", err)
		}
		cancel()
	}

	aiClient := ai.NewClient(cfg)

	queueClient := asynq.NewClient(config.AsynqRedisOpt(cfg))
	defer queueClient.Close()

	ocr := services.NewOCRService(aiClient, cfg)
	content := services.NewContentService(store, engine, cfg)
	vectors := services.NewVectorService(aiClient, index, store)
	qa := services.NewQAService(store, engine, vectors, aiClient, aiClient)
	export := services.NewExportService(store)

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware(cfg))
	if rdb != nil {
		router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	}

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracer("contract-archive-platform", cfg.Version, cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("tracing init failed", "error", err)
		} else {
			defer shutdownTracer()
			router.Use(middleware.TracingMiddleware())
			router.Use(middleware.EnrichTrace())
			if metrics, err := telemetry.InitMetrics(); err != nil {
				logger.Warn("metrics init failed", "error", err)
			} else {
				router.Use(middleware.MetricsMiddleware(metrics))
			}
		}
	}

	// Setup routes
	routes.SetupContractRoutes(router, cfg, store, storage, engine, content, vectors, ocr, export, queueClient)
	routes.SetupQARoutes(router, cfg, store, qa)
	routes.SetupSystemRoutes(router, cfg, store, engine, rdb, aiClient, vectors)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("server exited")
}
