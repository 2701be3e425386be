package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/internal/search"
	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

// ContentService chunks OCR-derived text into retrieval rows and answers
// scoped content searches, Elasticsearch first with a SQL LIKE fallback.
type ContentService struct {
	store     *database.Store
	engine    *search.Engine
	chunker   *Chunker
	uploadDir string
}

func NewContentService(store *database.Store, engine *search.Engine, cfg *config.Config) *ContentService {
	return &ContentService{
		store:     store,
		engine:    engine,
		chunker:   NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap),
		uploadDir: cfg.UploadDir,
	}
}

// ProcessContent reads the contract's derived text file, splits it and
// replaces the contract's chunk rows. Returns the number of chunks written.
// Status transitions belong to the pipeline orchestrator.
func (s *ContentService) ProcessContent(ctx context.Context, contract *models.Contract) (int, error) {
	if contract.TextContentPath == nil || *contract.TextContentPath == "" {
		return 0, utils.E(utils.KindValidation, "TXT文件路径不存在，请先完成OCR处理")
	}

	textPath := filepath.Join(s.uploadDir, filepath.FromSlash(*contract.TextContentPath))
	raw, err := os.ReadFile(textPath)
	if err != nil {
		return 0, utils.Wrap(utils.KindIO, fmt.Sprintf("读取文本内容文件失败: %s", *contract.TextContentPath), err)
	}

	chunks := s.chunker.Split(string(raw))
	if len(chunks) == 0 {
		return 0, utils.E(utils.KindValidation, "分块处理失败或文件为空")
	}

	rows := make([]models.ContractContent, 0, len(chunks))
	for _, ch := range chunks {
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			return 0, utils.Wrap(utils.KindInternal, "序列化分块元数据失败", err)
		}
		start, end := ch.Start, ch.End
		rows = append(rows, models.ContractContent{
			ContractID:    contract.ID,
			ChunkIndex:    ch.Index,
			ContentText:   ch.Text,
			ChunkType:     models.ChunkTypeParagraph,
			ChunkSize:     ch.Metadata.ChunkLength,
			ChunkMetadata: meta,
			StartPosition: &start,
			EndPosition:   &end,
			VectorStatus:  models.StatusPending,
		})
	}

	if err := s.store.ReplaceChunks(ctx, contract.ID, rows); err != nil {
		return 0, err
	}

	logger.Info("content chunked", "contract_id", contract.ID, "chunks", len(rows))
	return len(rows), nil
}

// SearchChunks searches chunk text, optionally scoped to one contract.
// Elasticsearch serves the query when reachable; otherwise a SQL LIKE scan
// answers with a plain <mark> highlight. A search log row is written either way.
func (s *ContentService) SearchChunks(ctx context.Context, contractID *uint, query string, page, size int) (*models.ChunkSearchData, error) {
	started := time.Now()

	var (
		data *models.ChunkSearchData
		err  error
	)
	if s.engine.Available(ctx) {
		data, err = s.searchWithES(ctx, contractID, query, page, size)
	} else {
		logger.Info("elasticsearch unavailable, falling back to sql search", "query", query)
		data, err = s.searchWithSQL(ctx, contractID, query, page, size)
	}
	if err != nil {
		return nil, err
	}

	s.logSearch(ctx, query, models.SearchMethodKeyword, len(data.Chunks), time.Since(started))
	return data, nil
}

func (s *ContentService) searchWithES(ctx context.Context, contractID *uint, query string, page, size int) (*models.ChunkSearchData, error) {
	var scope []uint
	if contractID != nil {
		scope = []uint{*contractID}
	}

	hits, total, err := s.engine.SearchContents(ctx, query, scope, (page-1)*size, size)
	if err != nil {
		return nil, err
	}

	results := make([]models.ChunkSearchHit, 0, len(hits))
	for _, h := range hits {
		highlighted := h.ContentText
		if len(h.Highlights) > 0 {
			highlighted = strings.Join(h.Highlights, " ... ")
		}
		results = append(results, models.ChunkSearchHit{
			ID:              h.ChunkID,
			ChunkIndex:      h.ChunkIndex,
			ContentText:     h.ContentText,
			HighlightedText: highlighted,
			ChunkType:       h.ChunkType,
			ChunkSize:       h.ChunkSize,
			RelevanceScore:  h.Score,
			ContractID:      h.ContractID,
			ContractNumber:  h.ContractNumber,
			ContractName:    h.ContractName,
			FileName:        h.FileName,
			FileFormat:      h.FileFormat,
			UploadTime:      h.UploadTime,
			ContractType:    h.ContractType,
		})
	}

	return &models.ChunkSearchData{
		Query:        query,
		SearchEngine: "elasticsearch",
		Chunks:       results,
		Pagination:   models.NewPagination(page, size, total),
	}, nil
}

func (s *ContentService) searchWithSQL(ctx context.Context, contractID *uint, query string, page, size int) (*models.ChunkSearchData, error) {
	var scope uint
	if contractID != nil {
		scope = *contractID
	}

	chunks, total, err := s.store.SearchChunksLike(ctx, scope, query, page, size)
	if err != nil {
		return nil, err
	}

	results := make([]models.ChunkSearchHit, 0, len(chunks))
	for _, ch := range chunks {
		results = append(results, models.ChunkSearchHit{
			ID:              ch.ID,
			ChunkIndex:      ch.ChunkIndex,
			ContentText:     ch.ContentText,
			HighlightedText: strings.ReplaceAll(ch.ContentText, query, "<mark>"+query+"</mark>"),
			ChunkType:       ch.ChunkType,
			ChunkSize:       ch.ChunkSize,
			RelevanceScore:  1.0,
			ContractID:      ch.ContractID,
		})
	}

	return &models.ChunkSearchData{
		Query:        query,
		SearchEngine: "sql",
		Chunks:       results,
		Pagination:   models.NewPagination(page, size, total),
	}, nil
}

func (s *ContentService) logSearch(ctx context.Context, query, searchType string, count int, took time.Duration) {
	entry := &models.SearchLog{
		SearchQuery:  truncateRunes(query, 500),
		SearchType:   searchType,
		ResultsCount: count,
		SearchTimeMs: took.Milliseconds(),
	}
	if err := s.store.CreateSearchLog(ctx, entry); err != nil {
		logger.Warn("search log write failed", "error", err)
	}
}

// SyncToElasticsearch pushes the contract document and all of its chunks
// into the lexical indices. The sync status ends `completed` only when the
// document and every chunk indexed successfully.
func (s *ContentService) SyncToElasticsearch(ctx context.Context, contractID uint) (int, error) {
	if !s.engine.Available(ctx) {
		s.markSyncStatus(ctx, contractID, models.StatusFailed)
		return 0, utils.E(utils.KindUnavailable, "Elasticsearch服务不可用")
	}

	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return 0, err
	}

	s.markSyncStatus(ctx, contractID, models.StatusProcessing)

	keywords := ExtractKeywords(contractKeywordText(contract), 10)
	contractSynced := true
	if err := s.engine.IndexContract(ctx, contract, keywords); err != nil {
		logger.Warn("contract index failed", "contract_id", contractID, "error", err)
		contractSynced = false
	}

	chunks, err := s.store.ListChunks(ctx, contractID)
	if err != nil {
		s.markSyncStatus(ctx, contractID, models.StatusFailed)
		return 0, err
	}

	synced := 0
	for i := range chunks {
		if err := s.engine.IndexChunk(ctx, &chunks[i], contract); err != nil {
			logger.Warn("chunk index failed", "contract_id", contractID, "chunk_id", chunks[i].ID, "error", err)
			continue
		}
		synced++
	}

	if contractSynced && synced == len(chunks) {
		s.markSyncStatus(ctx, contractID, models.StatusCompleted)
		logger.Info("elasticsearch sync completed", "contract_id", contractID, "chunks", synced)
		return synced, nil
	}

	s.markSyncStatus(ctx, contractID, models.StatusFailed)
	return synced, utils.E(utils.KindUpstream,
		fmt.Sprintf("同步部分失败：%d/%d 个分块成功", synced, len(chunks)))
}

func (s *ContentService) markSyncStatus(ctx context.Context, contractID uint, status string) {
	upd := models.ContractStatusUpdate{ElasticsearchSyncStatus: &status}
	if err := s.store.UpdateContractStatus(ctx, contractID, upd); err != nil {
		logger.Warn("sync status update failed", "contract_id", contractID, "status", status, "error", err)
	}
}

// DeleteChunks removes the contract's chunk rows and resets the content,
// vector and sync statuses back to pending.
func (s *ContentService) DeleteChunks(ctx context.Context, contractID uint) (int64, error) {
	count, err := s.store.CountChunks(ctx, contractID)
	if err != nil {
		return 0, err
	}
	if err := s.store.ReplaceChunks(ctx, contractID, nil); err != nil {
		return 0, err
	}

	pending := models.StatusPending
	upd := models.ContractStatusUpdate{
		ContentStatus:           &pending,
		VectorStatus:            &pending,
		ElasticsearchSyncStatus: &pending,
	}
	if err := s.store.UpdateContractStatus(ctx, contractID, upd); err != nil {
		return 0, err
	}

	logger.Info("chunks deleted", "contract_id", contractID, "count", count)
	return count, nil
}

// contractKeywordText is the text keywords are extracted from when indexing
// the contract document.
func contractKeywordText(c *models.Contract) string {
	text := c.ContractName
	if c.Summary != nil && *c.Summary != "" {
		text += " " + *c.Summary
	}
	return text
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
