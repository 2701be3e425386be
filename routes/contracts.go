package routes

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/internal/queue"
	"contract-archive-platform/internal/search"
	"contract-archive-platform/models"
	"contract-archive-platform/services"
	"contract-archive-platform/utils"
)

// extractContractInfo derives the contract number and name from the base
// filename. The stem splits on the first "-": left is the number, right the
// name. Without a "-" both are the whole stem.
func extractContractInfo(filename string) (string, string) {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if number, name, found := strings.Cut(stem, "-"); found {
		number = strings.TrimSpace(number)
		name = strings.TrimSpace(name)
		if number != "" && name != "" {
			return number, name
		}
	}
	return stem, stem
}

// pageParams parses page / page_size with the listing bounds.
func pageParams(c *gin.Context, sizeParam string) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(c.DefaultQuery(sizeParam, "20"))
	if err != nil || size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

// HandleContractUpload stores the uploaded file, creates the contract row
// and enqueues the full processing pipeline.
func HandleContractUpload(cfg *config.Config, store *database.Store, storage *services.FileStorage, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "请选择要上传的文件", nil)
			return
		}
		defer file.Close()

		if err := storage.CheckExtension(header.Filename); err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}
		if header.Size > storage.MaxSize() {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, string(utils.KindValidation),
				fmt.Sprintf("文件大小超过限制（最大 %.1fMB）", float64(storage.MaxSize())/1024/1024), nil)
			return
		}

		relPath, size, err := storage.Save(file, header.Filename)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		number, name := extractContractInfo(header.Filename)

		exists, err := store.ContractNumberExists(c.Request.Context(), number)
		if err != nil {
			storage.Delete(relPath)
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}
		if exists {
			storage.Delete(relPath)
			utils.RespondWithBadRequest(c, fmt.Sprintf("合同编号 %s 已存在", number), nil)
			return
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		var pageCount *int
		if ext == ".pdf" {
			pages, err := services.ValidatePDF(storage.FullPath(relPath))
			if err != nil {
				storage.Delete(relPath)
				utils.RespondWithAppError(c, err, cfg.Debug)
				return
			}
			pageCount = &pages
		}

		var contractType *string
		if t := strings.TrimSpace(c.Query("contract_type")); t != "" {
			contractType = &t
		}

		contract := &models.Contract{
			ContractNumber: number,
			ContractName:   name,
			ContractType:   contractType,
			FileName:       header.Filename,
			FilePath:       relPath,
			FileSize:       size,
			FileFormat:     strings.ToUpper(strings.TrimPrefix(filepath.Ext(header.Filename), ".")),
			PageCount:      pageCount,
			UploadTime:     time.Now(),
		}
		if err := store.CreateContract(c.Request.Context(), contract); err != nil {
			storage.Delete(relPath)
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		if err := enqueueContractTask(queueClient, queue.TaskContractPipeline, contract.ID, false); err != nil {
			// the contract stays pending, a manual trigger can restart it
			logger.Error("pipeline enqueue failed", "contract_id", contract.ID, "error", err)
			failed := models.StatusFailed
			_ = store.UpdateContractStatus(c.Request.Context(), contract.ID, models.ContractStatusUpdate{OCRStatus: &failed})
		}

		c.JSON(http.StatusOK, models.OK("文件上传成功，OCR处理已开始", models.UploadData{
			ID:             contract.ID,
			ContractNumber: contract.ContractNumber,
			ContractName:   contract.ContractName,
			ContractType:   contract.ContractType,
			FileName:       contract.FileName,
			FileSize:       contract.FileSize,
			FileFormat:     contract.FileFormat,
			PageCount:      contract.PageCount,
			UploadTime:     contract.UploadTime,
			OCRStatus:      contract.OCRStatus,
		}))
	}
}

func enqueueContractTask(client *asynq.Client, taskType string, contractID uint, force bool) error {
	var (
		task *asynq.Task
		err  error
	)
	switch taskType {
	case queue.TaskContractPipeline:
		task, err = queue.NewPipelineTask(contractID, force)
	case queue.TaskContractOCR:
		task, err = queue.NewOCRTask(contractID)
	case queue.TaskContractContent:
		task, err = queue.NewContentTask(contractID)
	case queue.TaskESSync:
		task, err = queue.NewESSyncTask(contractID)
	}
	if err != nil {
		return err
	}
	_, err = client.Enqueue(task)
	return err
}

// HandleContractList returns one page of contracts, newest first.
func HandleContractList(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, size := pageParams(c, "page_size")

		contracts, total, err := store.ListContracts(c.Request.Context(), page, size)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		responses := make([]models.ContractResponse, len(contracts))
		for i := range contracts {
			responses[i] = models.NewContractResponse(&contracts[i])
		}

		c.JSON(http.StatusOK, models.OK("获取合同列表成功", models.ContractListData{
			Contracts:  responses,
			Pagination: models.NewPagination(page, size, total),
		}))
	}
}

// HandleContractStatistics reports corpus-wide counters.
func HandleContractStatistics(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := store.Statistics(c.Request.Context())
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}
		c.JSON(http.StatusOK, models.OK("获取统计信息成功", stats))
	}
}

// HandleContractExport streams the xlsx register.
func HandleContractExport(cfg *config.Config, export *services.ExportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := export.ExportRegister(c.Request.Context())
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(result.FileName)))
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", result.Data)
	}
}

// HandleContractDetail returns one contract row.
func HandleContractDetail(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, models.OK("获取合同详情成功", models.NewContractResponse(contract)))
	}
}

// HandleContractDownload streams the original file with an RFC 5987 filename.
func HandleContractDownload(cfg *config.Config, store *database.Store, storage *services.FileStorage) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		fullPath := storage.FullPath(contract.FilePath)
		if _, err := os.Stat(fullPath); err != nil {
			utils.RespondWithNotFound(c, "合同文件不存在或已被删除")
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(contract.FileName)))
		c.File(fullPath)
	}
}

// HandleContractDelete removes the contract row along with its files, search
// documents and vector mapping entries.
func HandleContractDelete(cfg *config.Config, store *database.Store, storage *services.FileStorage, engine *search.Engine, vectors *services.VectorService) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		// derived state first, the row delete cascades to chunk rows
		if _, err := vectors.RemoveContract(c.Request.Context(), contract.ID); err != nil {
			logger.Warn("vector cleanup failed during delete", "contract_id", contract.ID, "error", err)
		}
		if err := engine.DeleteContract(c.Request.Context(), contract.ID); err != nil {
			logger.Warn("elasticsearch cleanup failed during delete", "contract_id", contract.ID, "error", err)
		}

		storage.Delete(contract.FilePath)
		if contract.HTMLContentPath != nil {
			storage.Delete(*contract.HTMLContentPath)
		}
		if contract.TextContentPath != nil {
			storage.Delete(*contract.TextContentPath)
		}

		if err := store.DeleteContract(c.Request.Context(), contract.ID); err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		c.JSON(http.StatusOK, models.OK("合同删除成功", gin.H{"contract_id": contract.ID}))
	}
}

// HandleOCRStatus reports the OCR stage state and artifact paths.
func HandleOCRStatus(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		c.JSON(http.StatusOK, models.OK("获取OCR状态成功", gin.H{
			"contract_id":       contract.ID,
			"ocr_status":        contract.OCRStatus,
			"content_status":    contract.ContentStatus,
			"vector_status":     contract.VectorStatus,
			"html_content_path": contract.HTMLContentPath,
			"text_content_path": contract.TextContentPath,
		}))
	}
}

// HandleContentStatus reports the chunking stage state and chunk count.
func HandleContentStatus(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		count, err := store.CountChunks(c.Request.Context(), contract.ID)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		c.JSON(http.StatusOK, models.OK("获取内容处理状态成功", gin.H{
			"contract_id":    contract.ID,
			"content_status": contract.ContentStatus,
			"vector_status":  contract.VectorStatus,
			"chunk_count":    count,
		}))
	}
}

// HandleAutomatedStatus reports all four stage statuses plus the collapsed
// overall state.
func HandleAutomatedStatus(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		count, err := store.CountChunks(c.Request.Context(), contract.ID)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		c.JSON(http.StatusOK, models.OK("获取自动化处理状态成功", gin.H{
			"contract_id":               contract.ID,
			"ocr_status":                contract.OCRStatus,
			"content_status":            contract.ContentStatus,
			"vector_status":             contract.VectorStatus,
			"elasticsearch_sync_status": contract.ElasticsearchSyncStatus,
			"overall_status":            contract.OverallStatus(),
			"chunk_count":               count,
		}))
	}
}

// HandleProcessOCR re-runs the OCR stage for one contract.
func HandleProcessOCR(cfg *config.Config, store *database.Store, storage *services.FileStorage, ocr *services.OCRService, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		if !storage.Exists(contract.FilePath) {
			utils.RespondWithNotFound(c, "合同文件不存在")
			return
		}
		if contract.OCRStatus == models.StatusProcessing {
			utils.RespondWithBadRequest(c, "OCR处理正在进行中，请稍后查询状态", nil)
			return
		}
		if !ocr.Available() {
			utils.RespondWithError(c, http.StatusServiceUnavailable, string(utils.KindUnavailable), "OCR服务不可用", nil)
			return
		}

		if err := enqueueContractTask(queueClient, queue.TaskContractOCR, contract.ID, false); err != nil {
			utils.RespondWithAppError(c, utils.Wrap(utils.KindInternal, "启动OCR处理失败", err), cfg.Debug)
			return
		}
		processing := models.StatusProcessing
		_ = store.UpdateContractStatus(c.Request.Context(), contract.ID, models.ContractStatusUpdate{OCRStatus: &processing})

		c.JSON(http.StatusOK, models.OK("OCR处理已开始，请稍后查询处理状态", gin.H{
			"contract_id": contract.ID,
			"ocr_status":  models.StatusProcessing,
		}))
	}
}

// HandleProcessContent re-runs the chunking stage for one contract.
func HandleProcessContent(cfg *config.Config, store *database.Store, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		if contract.ContentStatus == models.StatusProcessing {
			utils.RespondWithBadRequest(c, "内容分块正在进行中，请稍后查询状态", nil)
			return
		}
		if contract.OCRStatus != models.StatusCompleted {
			utils.RespondWithBadRequest(c, "OCR处理未完成，无法进行内容分块", nil)
			return
		}

		if err := enqueueContractTask(queueClient, queue.TaskContractContent, contract.ID, false); err != nil {
			utils.RespondWithAppError(c, utils.Wrap(utils.KindInternal, "启动内容分块失败", err), cfg.Debug)
			return
		}
		processing := models.StatusProcessing
		_ = store.UpdateContractStatus(c.Request.Context(), contract.ID, models.ContractStatusUpdate{ContentStatus: &processing})

		c.JSON(http.StatusOK, models.OK("内容分块处理已开始，请稍后查询处理状态", gin.H{
			"contract_id":    contract.ID,
			"content_status": models.StatusProcessing,
		}))
	}
}

// HandleProcessAutomated runs the full pipeline. force_reprocess wipes
// derived state before the run.
func HandleProcessAutomated(cfg *config.Config, store *database.Store, storage *services.FileStorage, ocr *services.OCRService, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		force := c.Query("force_reprocess") == "true"

		if !storage.Exists(contract.FilePath) {
			utils.RespondWithNotFound(c, "合同文件不存在")
			return
		}
		if contract.IsProcessing() && !force {
			utils.RespondWithBadRequest(c, "合同正在处理中，请稍后查询状态", nil)
			return
		}
		if !ocr.Available() {
			utils.RespondWithError(c, http.StatusServiceUnavailable, string(utils.KindUnavailable), "OCR服务不可用", nil)
			return
		}

		if err := enqueueContractTask(queueClient, queue.TaskContractPipeline, contract.ID, force); err != nil {
			utils.RespondWithAppError(c, utils.Wrap(utils.KindInternal, "启动自动化处理失败", err), cfg.Debug)
			return
		}
		processing := models.StatusProcessing
		_ = store.UpdateContractStatus(c.Request.Context(), contract.ID, models.ContractStatusUpdate{OCRStatus: &processing})

		c.JSON(http.StatusOK, models.OK("自动化处理已开始，请稍后查询处理状态", gin.H{
			"contract_id":     contract.ID,
			"force_reprocess": force,
			"overall_status":  models.StatusProcessing,
		}))
	}
}

// HandleHTMLContent returns the cleaned OCR HTML. Non-UTF-8 artifacts fall
// back to GBK and then Latin-1 decoding.
func HandleHTMLContent(cfg *config.Config, store *database.Store, storage *services.FileStorage) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		switch contract.OCRStatus {
		case models.StatusCompleted:
		case models.StatusProcessing:
			utils.RespondWithBadRequest(c, "OCR处理正在进行中，请稍后再试", nil)
			return
		case models.StatusFailed:
			utils.RespondWithBadRequest(c, "OCR处理失败，无法获取HTML内容", nil)
			return
		default:
			utils.RespondWithBadRequest(c, "OCR处理未完成，无法获取HTML内容", nil)
			return
		}

		if contract.HTMLContentPath == nil {
			utils.RespondWithNotFound(c, "HTML内容文件路径不存在")
			return
		}

		data, err := os.ReadFile(storage.FullPath(*contract.HTMLContentPath))
		if err != nil {
			utils.RespondWithNotFound(c, "HTML内容文件不存在或已被删除")
			return
		}

		c.JSON(http.StatusOK, models.OK("获取HTML内容成功", gin.H{
			"html_content": decodeHTML(data),
			"content_type": "text/html",
		}))
	}
}

func decodeHTML(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	if decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data); err == nil {
		return string(decoded)
	}
	decoded, _ := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(decoded)
}

// HandleContractChunks pages through the stored chunks of one contract.
func HandleContractChunks(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		page, size := pageParams(c, "size")
		chunkType := c.Query("chunk_type")

		chunks, total, err := store.PageChunks(c.Request.Context(), contract.ID, page, size, chunkType)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		responses := make([]models.ChunkResponse, len(chunks))
		for i := range chunks {
			responses[i] = models.NewChunkResponse(&chunks[i])
		}

		c.JSON(http.StatusOK, models.OK("获取分块内容成功", models.ChunkListData{
			ContractID: contract.ID,
			Chunks:     responses,
			Pagination: models.NewPagination(page, size, total),
		}))
	}
}

// HandleContractContentSearch runs a full-text search scoped to one contract.
func HandleContractContentSearch(cfg *config.Config, store *database.Store, content *services.ContentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		contract, ok := loadContract(c, cfg, store)
		if !ok {
			return
		}

		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			utils.RespondWithBadRequest(c, "搜索关键词不能为空", nil)
			return
		}
		page, size := pageParams(c, "size")

		data, err := content.SearchChunks(c.Request.Context(), &contract.ID, query, page, size)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		c.JSON(http.StatusOK, models.OK("搜索完成", data))
	}
}

// loadContract resolves the :id path param, answering 400/404 on failure.
func loadContract(c *gin.Context, cfg *config.Config, store *database.Store) (*models.Contract, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		utils.RespondWithBadRequest(c, "无效的合同ID", nil)
		return nil, false
	}

	contract, err := store.GetContract(c.Request.Context(), uint(id))
	if err != nil {
		utils.RespondWithAppError(c, err, cfg.Debug)
		return nil, false
	}
	return contract, true
}
