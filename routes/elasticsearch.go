package routes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/queue"
	"contract-archive-platform/internal/search"
	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

// HandleESStatus reports cluster health and per-index document counts.
func HandleESStatus(cfg *config.Config, engine *search.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !engine.Enabled() {
			c.JSON(http.StatusOK, models.OK("Elasticsearch已禁用", gin.H{
				"enabled": false,
				"status":  "disabled",
			}))
			return
		}

		health, err := engine.Health(c.Request.Context())
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		data := gin.H{
			"enabled":         true,
			"status":          health.Status,
			"cluster_name":    health.ClusterName,
			"number_of_nodes": health.Nodes,
		}
		if counts, err := engine.Counts(c.Request.Context()); err == nil {
			data["indices"] = counts
		}

		c.JSON(http.StatusOK, models.OK("Elasticsearch状态正常", data))
	}
}

// HandleESInit creates the indices with their mappings.
func HandleESInit(cfg *config.Config, engine *search.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := engine.EnsureIndices(c.Request.Context()); err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}
		c.JSON(http.StatusOK, models.OK("索引初始化成功", nil))
	}
}

// HandleESSearch runs a corpus-wide full-text search. type=contracts queries
// the contract-level index; the default queries chunk contents, optionally
// scoped to a set of contracts.
func HandleESSearch(cfg *config.Config, engine *search.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			utils.RespondWithBadRequest(c, "搜索关键词不能为空", nil)
			return
		}
		page, size := pageParams(c, "size")

		if c.Query("type") == "contracts" {
			hits, total, err := engine.SearchContracts(c.Request.Context(), query, (page-1)*size, size)
			if err != nil {
				utils.RespondWithAppError(c, err, cfg.Debug)
				return
			}
			c.JSON(http.StatusOK, models.OK("搜索完成", gin.H{
				"query":      query,
				"results":    hits,
				"pagination": models.NewPagination(page, size, total),
			}))
			return
		}

		var contractIDs []uint
		if raw := strings.TrimSpace(c.Query("contract_ids")); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
				if err != nil {
					utils.RespondWithBadRequest(c, "无效的合同ID列表", nil)
					return
				}
				contractIDs = append(contractIDs, uint(id))
			}
		}

		hits, total, err := engine.SearchContents(c.Request.Context(), query, contractIDs, (page-1)*size, size)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		c.JSON(http.StatusOK, models.OK("搜索完成", gin.H{
			"query":      query,
			"results":    hits,
			"pagination": models.NewPagination(page, size, total),
		}))
	}
}

// HandleESSyncContract enqueues the Elasticsearch sync of one contract.
func HandleESSyncContract(cfg *config.Config, store *database.Store, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		if err := enqueueContractTask(queueClient, queue.TaskESSync, contract.ID, false); err != nil {
			utils.RespondWithAppError(c, utils.Wrap(utils.KindInternal, "启动同步任务失败", err), cfg.Debug)
			return
		}
		processing := models.StatusProcessing
		_ = store.UpdateContractStatus(c.Request.Context(), contract.ID, models.ContractStatusUpdate{ElasticsearchSyncStatus: &processing})

		c.JSON(http.StatusOK, models.OK("同步任务已开始，请稍后查询同步状态", gin.H{
			"contract_id": contract.ID,
			"sync_status": models.StatusProcessing,
		}))
	}
}

// HandleESSyncAll enqueues a corpus-wide sync sweep.
func HandleESSyncAll(cfg *config.Config, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := queue.NewESSyncAllTask()
		if err == nil {
			_, err = queueClient.Enqueue(task)
		}
		if err != nil {
			utils.RespondWithAppError(c, utils.Wrap(utils.KindInternal, "启动全量同步失败", err), cfg.Debug)
			return
		}

		c.JSON(http.StatusOK, models.OK("全量同步任务已开始，请稍后查询同步状态", nil))
	}
}

// HandleESSyncStatus summarizes per-status contract counts next to the live
// index document counts.
func HandleESSyncStatus(cfg *config.Config, store *database.Store, engine *search.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := store.Statistics(c.Request.Context())
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		data := gin.H{
			"total_contracts": stats.TotalContracts,
			"by_sync_status":  stats.BySyncStatus,
		}
		if counts, err := engine.Counts(c.Request.Context()); err == nil {
			data["indices"] = counts
		}

		c.JSON(http.StatusOK, models.OK("获取同步状态成功", data))
	}
}
