package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"contract-archive-platform/internal/ai"
	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/internal/queue"
	"contract-archive-platform/internal/search"
	"contract-archive-platform/internal/vectorstore"
	"contract-archive-platform/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Postgres:", err)
	}
	store := database.NewStore(db)

	storage := services.NewFileStorage(cfg)
	if err := storage.EnsureDirs(); err != nil {
		log.Fatal("Failed to prepare upload directories:", err)
	}

	index, err := vectorstore.Open(cfg.FaissIndexPath, cfg.VectorDim)
	if err != nil {
		log.Fatal("Failed to open vector index:", err)
	}

	// The processing lock degrades to fail-open without Redis; the queue
	// connection below is managed by asynq itself.
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		logger.Warn("redis unavailable, processing locks disabled", "error", err)
		rdb = nil
	}

	engine, err := search.New(cfg)
	if err != nil {
		log.Fatal("Failed to initialize Elasticsearch client:", err)
	}

	aiClient := ai.NewClient(cfg)

	ocr := services.NewOCRService(aiClient, cfg)
	content := services.NewContentService(store, engine, cfg)
	vectors := services.NewVectorService(aiClient, index, store)
	pipeline := services.NewPipeline(store, ocr, content, vectors, engine, rdb)

	redisOpt := config.AsynqRedisOpt(cfg)

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 20,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(pipeline, content, store)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	// Contracts a previous worker left mid-stage are picked up again.
	client := asynq.NewClient(redisOpt)
	resumeInterrupted(store, client)
	client.Close()

	janitor := services.NewMaintenanceScheduler(store)
	if err := janitor.Start(); err != nil {
		log.Fatal("Failed to start maintenance scheduler:", err)
	}
	defer janitor.Stop()

	logger.Info("worker starting",
		"concurrency", 20,
		"queues", "critical(6) default(3) low(1)",
		"redis", cfg.RedisURL)

	// Run blocks until SIGINT/SIGTERM and drains in-flight tasks.
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}

// resumeInterrupted re-enqueues pipeline runs for contracts whose stages are
// stuck in processing, typically after an unclean worker shutdown. Completed
// stages are skipped on replay so only the interrupted work is redone.
func resumeInterrupted(store *database.Store, client *asynq.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	contracts, err := store.ProcessingContracts(ctx)
	if err != nil {
		logger.Warn("resume scan failed", "error", err)
		return
	}

	for _, contract := range contracts {
		task, err := queue.NewPipelineTask(contract.ID, false)
		if err != nil {
			logger.Warn("resume task build failed", "contract_id", contract.ID, "error", err)
			continue
		}
		if _, err := client.Enqueue(task); err != nil {
			logger.Warn("resume enqueue failed", "contract_id", contract.ID, "error", err)
			continue
		}
		logger.Info("re-enqueued interrupted contract", "contract_id", contract.ID)
	}
}
