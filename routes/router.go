package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"contract-archive-platform/internal/ai"
	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/search"
	"contract-archive-platform/middleware"
	"contract-archive-platform/services"
)

// SetupContractRoutes mounts contract management, processing triggers and
// the Elasticsearch operations subtree.
func SetupContractRoutes(
	router *gin.Engine,
	cfg *config.Config,
	store *database.Store,
	storage *services.FileStorage,
	engine *search.Engine,
	content *services.ContentService,
	vectors *services.VectorService,
	ocr *services.OCRService,
	export *services.ExportService,
	queueClient *asynq.Client,
) {
	contracts := router.Group("/api/v1/contracts")

	// The multipart envelope adds a little overhead on top of the file itself.
	uploadLimit := middleware.RequestSizeLimit(cfg.MaxFileSize + 1<<20)
	contracts.POST("/upload", uploadLimit, HandleContractUpload(cfg, store, storage, queueClient))
	contracts.GET("/", HandleContractList(cfg, store))
	contracts.GET("/statistics", HandleContractStatistics(cfg, store))
	contracts.GET("/export", HandleContractExport(cfg, export))

	contracts.GET("/:id", HandleContractDetail(cfg, store))
	contracts.DELETE("/:id", HandleContractDelete(cfg, store, storage, engine, vectors))
	contracts.GET("/:id/download", HandleContractDownload(cfg, store, storage))
	contracts.GET("/:id/ocr-status", HandleOCRStatus(cfg, store))
	contracts.GET("/:id/content-status", HandleContentStatus(cfg, store))
	contracts.GET("/:id/automated-status", HandleAutomatedStatus(cfg, store))
	contracts.POST("/:id/process-ocr", HandleProcessOCR(cfg, store, storage, ocr, queueClient))
	contracts.POST("/:id/process-content", HandleProcessContent(cfg, store, queueClient))
	contracts.POST("/:id/process-automated", HandleProcessAutomated(cfg, store, storage, ocr, queueClient))
	contracts.GET("/:id/html-content", HandleHTMLContent(cfg, store, storage))
	contracts.GET("/:id/content/chunks", HandleContractChunks(cfg, store))
	contracts.GET("/:id/content/search", HandleContractContentSearch(cfg, store, content))

	es := contracts.Group("/elasticsearch")
	es.GET("/status", HandleESStatus(cfg, engine))
	es.POST("/init", HandleESInit(cfg, engine))
	es.GET("/search", HandleESSearch(cfg, engine))
	es.POST("/sync/:id", HandleESSyncContract(cfg, store, queueClient))
	es.POST("/sync-all", HandleESSyncAll(cfg, queueClient))
	es.GET("/sync-status", HandleESSyncStatus(cfg, store, engine))
}

// SetupQARoutes mounts the question answering endpoints.
func SetupQARoutes(router *gin.Engine, cfg *config.Config, store *database.Store, qa *services.QAService) {
	group := router.Group("/api/v1/qa")

	group.POST("/ask", HandleQAAsk(cfg, qa))
	group.GET("/sessions", HandleQASessions(cfg, store))
	group.GET("/sessions/:sid", HandleQASessionHistory(cfg, store))
	group.POST("/sessions/:sid/messages/:id/feedback", HandleQAFeedback(cfg, store))
	group.DELETE("/sessions/:sid", HandleQADeleteSession(cfg, store))
}

// SetupSystemRoutes mounts health, info, maintenance, search logs and the
// system config endpoints, plus the root welcome payload and static uploads.
func SetupSystemRoutes(
	router *gin.Engine,
	cfg *config.Config,
	store *database.Store,
	engine *search.Engine,
	rdb *redis.Client,
	aiClient *ai.Client,
	vectors *services.VectorService,
) {
	router.GET("/", HandleRoot(cfg))
	router.Static("/uploads", cfg.UploadDir)

	v1 := router.Group("/api/v1")
	v1.GET("/health", HandleHealth(cfg, store, engine, rdb, aiClient, vectors))
	v1.GET("/info", HandleInfo(cfg))
	v1.POST("/maintenance/clear-all", HandleClearAll(cfg, store, engine, vectors))
	v1.GET("/search/logs", HandleSearchLogs(cfg, store))
	v1.GET("/system/config", HandleConfigList(cfg, store))
	v1.PUT("/system/config", HandleConfigUpsert(cfg, store))
	v1.GET("/system/config/:key", HandleConfigGet(cfg, store))
}
