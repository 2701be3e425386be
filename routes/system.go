package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"contract-archive-platform/internal/ai"
	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/internal/search"
	"contract-archive-platform/models"
	"contract-archive-platform/services"
	"contract-archive-platform/utils"
)

// HandleRoot serves the welcome payload.
func HandleRoot(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("欢迎使用%s", cfg.ProjectName),
			"version": cfg.Version,
			"health":  "/api/v1/health",
		})
	}
}

// HandleHealth checks each backing component. The overall state is healthy
// only while the database answers; degraded components are reported but do
// not fail the endpoint.
func HandleHealth(cfg *config.Config, store *database.Store, engine *search.Engine, rdb *redis.Client, aiClient *ai.Client, vectors *services.VectorService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		dbStatus := "healthy"
		if sqlDB, err := store.DB().DB(); err != nil {
			dbStatus = "error"
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = "error"
		}

		esStatus := "disabled"
		if engine.Enabled() {
			esStatus = "unavailable"
			if engine.Available(ctx) {
				esStatus = "healthy"
			}
		}

		redisStatus := "unavailable"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err == nil {
				redisStatus = "healthy"
			}
		}

		aiStatus := "unavailable"
		if aiClient.Configured() {
			aiStatus = "healthy"
		}

		status := "healthy"
		if dbStatus != "healthy" {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.OK("系统状态检查完成", gin.H{
			"status":        status,
			"timestamp":     time.Now(),
			"version":       cfg.Version,
			"database":      dbStatus,
			"elasticsearch": esStatus,
			"redis":         redisStatus,
			"ai_service":    aiStatus,
			"vector_index":  vectors.Stats(),
		}))
	}
}

// HandleInfo serves static service metadata.
func HandleInfo(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.OK("API信息获取成功", gin.H{
			"name":              cfg.ProjectName,
			"version":           cfg.Version,
			"description":       "合同档案管理系统API",
			"max_file_size":     fmt.Sprintf("%.1fMB", float64(cfg.MaxFileSize)/1024/1024),
			"supported_formats": cfg.SupportedFormats,
			"features": []string{
				"文件上传",
				"OCR文字识别",
				"智能分块",
				"全文检索",
				"语义检索",
				"智能问答",
				"合同管理",
				"状态跟踪",
			},
		}))
	}
}

// HandleClearAll resets the derived search state: the vector index is wiped,
// every contract's index statuses go back to pending and, when requested,
// the Elasticsearch indices are dropped and recreated. Development tool.
func HandleClearAll(cfg *config.Config, store *database.Store, engine *search.Engine, vectors *services.VectorService) gin.HandlerFunc {
	return func(c *gin.Context) {
		resetIndices := c.Query("reset_indices") == "true"

		if err := vectors.ClearAll(); err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		indicesReset := false
		if resetIndices {
			if err := engine.ResetIndices(c.Request.Context()); err != nil {
				logger.Warn("elasticsearch index reset failed", "error", err)
			} else {
				indicesReset = true
			}
		}

		if err := store.ResetIndexState(c.Request.Context()); err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		logger.Info("index state cleared", "indices_reset", indicesReset)
		c.JSON(http.StatusOK, models.OK("索引状态已重置", gin.H{
			"vector_index_cleared": true,
			"elasticsearch_reset":  indicesReset,
		}))
	}
}

// HandleSearchLogs pages through recorded retrieval requests.
func HandleSearchLogs(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, size := pageParams(c, "page_size")

		logs, total, err := store.ListSearchLogs(c.Request.Context(), page, size)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}
		if logs == nil {
			logs = []models.SearchLog{}
		}

		c.JSON(http.StatusOK, models.OK("获取检索日志成功", gin.H{
			"logs":       logs,
			"pagination": models.NewPagination(page, size, total),
		}))
	}
}

// HandleConfigList returns every system config entry.
func HandleConfigList(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		configs, err := store.ListConfigs(c.Request.Context())
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}
		if configs == nil {
			configs = []models.SystemConfig{}
		}
		c.JSON(http.StatusOK, models.OK("获取系统配置成功", configs))
	}
}

// HandleConfigUpsert creates or updates one system config entry.
func HandleConfigUpsert(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ConfigUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "配置键和配置值不能为空", nil)
			return
		}

		entry, err := store.UpsertConfig(c.Request.Context(), req)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		c.JSON(http.StatusOK, models.OK("配置更新成功", entry))
	}
}

// HandleConfigGet returns one system config entry by key.
func HandleConfigGet(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := store.GetConfig(c.Request.Context(), c.Param("key"))
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}
		c.JSON(http.StatusOK, models.OK("获取配置成功", entry))
	}
}
