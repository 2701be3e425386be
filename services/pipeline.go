package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/internal/search"
	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

// pipelineLockTTL outlives the worker task timeout so a crashed worker's
// lock expires on its own.
const pipelineLockTTL = 15 * time.Minute

// Pipeline drives the per-contract processing state machine: OCR, chunking,
// Elasticsearch sync, vectorization. Each stage persists `processing` before
// heavy work and `completed`/`failed` after; a failed stage halts the run
// and downstream stages keep their prior status. Replaying a completed
// contract without force performs no writes.
type Pipeline struct {
	store   *database.Store
	ocr     *OCRService
	content *ContentService
	vectors *VectorService
	engine  *search.Engine
	rdb     *redis.Client
}

func NewPipeline(store *database.Store, ocr *OCRService, content *ContentService, vectors *VectorService, engine *search.Engine, rdb *redis.Client) *Pipeline {
	return &Pipeline{
		store:   store,
		ocr:     ocr,
		content: content,
		vectors: vectors,
		engine:  engine,
		rdb:     rdb,
	}
}

// Run executes the full pipeline for one contract. force wipes derived state
// first so every stage runs from scratch.
func (p *Pipeline) Run(ctx context.Context, contractID uint, force bool) error {
	unlock, err := p.lock(ctx, contractID)
	if err != nil {
		return err
	}
	defer unlock()

	if force {
		if err := p.reset(ctx, contractID); err != nil {
			return err
		}
	}

	if err := p.runOCR(ctx, contractID, force); err != nil {
		return err
	}
	if err := p.runContent(ctx, contractID, force); err != nil {
		return err
	}
	if err := p.runSync(ctx, contractID, force); err != nil {
		return err
	}
	return p.runVector(ctx, contractID, force)
}

// ProcessOCR is the manual single-stage trigger. Unlike Run it reprocesses a
// completed contract, it only refuses while another run holds the lock.
func (p *Pipeline) ProcessOCR(ctx context.Context, contractID uint) error {
	unlock, err := p.lock(ctx, contractID)
	if err != nil {
		return err
	}
	defer unlock()

	return p.runOCR(ctx, contractID, true)
}

// ProcessContent is the manual chunking trigger; it requires completed OCR.
func (p *Pipeline) ProcessContent(ctx context.Context, contractID uint) error {
	unlock, err := p.lock(ctx, contractID)
	if err != nil {
		return err
	}
	defer unlock()

	return p.runContent(ctx, contractID, true)
}

// SyncContract pushes one contract into Elasticsearch, outside the full run.
func (p *Pipeline) SyncContract(ctx context.Context, contractID uint) error {
	_, err := p.content.SyncToElasticsearch(ctx, contractID)
	return err
}

func (p *Pipeline) runOCR(ctx context.Context, contractID uint, force bool) error {
	contract, err := p.store.GetContract(ctx, contractID)
	if err != nil {
		return err
	}
	if !force && contract.OCRStatus == models.StatusCompleted {
		return nil
	}

	if err := p.markStage(ctx, contractID, stageOCR, models.StatusProcessing); err != nil {
		return err
	}

	htmlRel, textRel, err := p.ocr.ProcessDocument(ctx, contract.FilePath)
	if err != nil {
		p.failStage(ctx, contractID, stageOCR, err)
		return err
	}

	completed := models.StatusCompleted
	upd := models.ContractStatusUpdate{
		OCRStatus:       &completed,
		HTMLContentPath: &htmlRel,
		TextContentPath: &textRel,
	}
	if err := p.store.UpdateContractStatus(ctx, contractID, upd); err != nil {
		return err
	}
	logger.Info("pipeline stage completed", "contract_id", contractID, "stage", stageOCR)
	return nil
}

func (p *Pipeline) runContent(ctx context.Context, contractID uint, force bool) error {
	contract, err := p.store.GetContract(ctx, contractID)
	if err != nil {
		return err
	}
	if !force && contract.ContentStatus == models.StatusCompleted {
		return nil
	}
	if contract.OCRStatus != models.StatusCompleted {
		return utils.E(utils.KindValidation, "OCR处理未完成，无法进行内容分块")
	}

	if err := p.markStage(ctx, contractID, stageContent, models.StatusProcessing); err != nil {
		return err
	}

	if _, err := p.content.ProcessContent(ctx, contract); err != nil {
		p.failStage(ctx, contractID, stageContent, err)
		return err
	}

	return p.markStage(ctx, contractID, stageContent, models.StatusCompleted)
}

func (p *Pipeline) runSync(ctx context.Context, contractID uint, force bool) error {
	contract, err := p.store.GetContract(ctx, contractID)
	if err != nil {
		return err
	}
	if !force && contract.ElasticsearchSyncStatus == models.StatusCompleted {
		return nil
	}
	if contract.ContentStatus != models.StatusCompleted {
		return utils.E(utils.KindValidation, "内容分块未完成，无法同步到Elasticsearch")
	}

	// SyncToElasticsearch owns the processing/completed/failed transitions.
	if _, err := p.content.SyncToElasticsearch(ctx, contractID); err != nil {
		logger.Error("pipeline stage failed", "contract_id", contractID, "stage", stageSync, "error", err)
		return err
	}
	logger.Info("pipeline stage completed", "contract_id", contractID, "stage", stageSync)
	return nil
}

func (p *Pipeline) runVector(ctx context.Context, contractID uint, force bool) error {
	contract, err := p.store.GetContract(ctx, contractID)
	if err != nil {
		return err
	}
	if !force && contract.VectorStatus == models.StatusCompleted {
		return nil
	}
	if contract.ContentStatus != models.StatusCompleted {
		return utils.E(utils.KindValidation, "内容分块未完成，无法进行向量化")
	}

	if err := p.markStage(ctx, contractID, stageVector, models.StatusProcessing); err != nil {
		return err
	}

	if _, err := p.vectors.VectorizeContract(ctx, contractID); err != nil {
		p.failStage(ctx, contractID, stageVector, err)
		return err
	}

	return p.markStage(ctx, contractID, stageVector, models.StatusCompleted)
}

// reset wipes every derived artifact so a forced run starts clean: vector
// mapping entries, Elasticsearch documents, chunk rows, then all four
// statuses back to pending.
func (p *Pipeline) reset(ctx context.Context, contractID uint) error {
	if _, err := p.vectors.RemoveContract(ctx, contractID); err != nil {
		return err
	}
	if err := p.engine.DeleteContract(ctx, contractID); err != nil {
		// ES may be down; the sync stage will rebuild its documents anyway.
		logger.Warn("elasticsearch cleanup failed during reset", "contract_id", contractID, "error", err)
	}
	if err := p.store.ReplaceChunks(ctx, contractID, nil); err != nil {
		return err
	}

	pending := models.StatusPending
	upd := models.ContractStatusUpdate{
		OCRStatus:               &pending,
		ContentStatus:           &pending,
		VectorStatus:            &pending,
		ElasticsearchSyncStatus: &pending,
	}
	if err := p.store.UpdateContractStatus(ctx, contractID, upd); err != nil {
		return err
	}
	logger.Info("pipeline state reset", "contract_id", contractID)
	return nil
}

type pipelineStage string

const (
	stageOCR     pipelineStage = "ocr"
	stageContent pipelineStage = "content"
	stageSync    pipelineStage = "elasticsearch_sync"
	stageVector  pipelineStage = "vector"
)

func (p *Pipeline) markStage(ctx context.Context, contractID uint, stage pipelineStage, status string) error {
	var upd models.ContractStatusUpdate
	switch stage {
	case stageOCR:
		upd.OCRStatus = &status
	case stageContent:
		upd.ContentStatus = &status
	case stageSync:
		upd.ElasticsearchSyncStatus = &status
	case stageVector:
		upd.VectorStatus = &status
	}
	if err := p.store.UpdateContractStatus(ctx, contractID, upd); err != nil {
		return err
	}
	if status == models.StatusCompleted {
		logger.Info("pipeline stage completed", "contract_id", contractID, "stage", stage)
	}
	return nil
}

func (p *Pipeline) failStage(ctx context.Context, contractID uint, stage pipelineStage, cause error) {
	logger.Error("pipeline stage failed", "contract_id", contractID, "stage", stage, "error", cause)
	if err := p.markStage(ctx, contractID, stage, models.StatusFailed); err != nil {
		logger.Error("stage status update failed", "contract_id", contractID, "stage", stage, "error", err)
	}
}

// lock takes the per-contract redis lock so at most one pipeline touches a
// contract at a time. Lock service errors fail open; a held lock refuses
// with a conflict.
func (p *Pipeline) lock(ctx context.Context, contractID uint) (func(), error) {
	if p.rdb == nil {
		return func() {}, nil
	}

	key := fmt.Sprintf("pipeline:lock:%d", contractID)
	ok, err := p.rdb.SetNX(ctx, key, "1", pipelineLockTTL).Result()
	if err != nil {
		logger.Warn("pipeline lock unavailable, proceeding unlocked", "contract_id", contractID, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, utils.E(utils.KindConflict, "该合同的处理任务正在进行中，请稍后再试")
	}

	return func() {
		if err := p.rdb.Del(context.Background(), key).Err(); err != nil {
			logger.Warn("pipeline unlock failed", "key", key, "error", err)
		}
	}, nil
}

// OCRAvailable reports whether the vision model is configured, for the 503
// answer on manual triggers.
func (p *Pipeline) OCRAvailable() bool {
	return p.ocr.Available()
}
