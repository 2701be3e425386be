package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/services"
	"contract-archive-platform/utils"
)

const (
	TaskContractPipeline = "contract:pipeline"
	TaskContractOCR      = "contract:ocr"
	TaskContractContent  = "contract:content"
	TaskESSync           = "es:sync"
	TaskESSyncAll        = "es:sync_all"
)

// ContractPayload addresses one contract; Force wipes derived state before
// the run.
type ContractPayload struct {
	ContractID uint `json:"contract_id"`
	Force      bool `json:"force,omitempty"`
}

// Task creators
func NewPipelineTask(contractID uint, force bool) (*asynq.Task, error) {
	payload, err := json.Marshal(ContractPayload{ContractID: contractID, Force: force})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskContractPipeline,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewOCRTask(contractID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(ContractPayload{ContractID: contractID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskContractOCR,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewContentTask(contractID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(ContractPayload{ContractID: contractID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskContractContent,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("default"),
	), nil
}

func NewESSyncTask(contractID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(ContractPayload{ContractID: contractID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskESSync,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("default"),
	), nil
}

func NewESSyncAllTask() (*asynq.Task, error) {
	return asynq.NewTask(
		TaskESSyncAll,
		nil,
		asynq.MaxRetry(1),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("low"),
	), nil
}

// TaskProcessor executes queued contract jobs by delegating to the pipeline
// services. Permanent failures skip asynq retries; transient ones retry.
type TaskProcessor struct {
	pipeline *services.Pipeline
	content  *services.ContentService
	store    *database.Store
}

func NewTaskProcessor(pipeline *services.Pipeline, content *services.ContentService, store *database.Store) *TaskProcessor {
	return &TaskProcessor{
		pipeline: pipeline,
		content:  content,
		store:    store,
	}
}

// Register binds every task type onto the worker mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskContractPipeline, p.HandlePipeline)
	mux.HandleFunc(TaskContractOCR, p.HandleOCR)
	mux.HandleFunc(TaskContractContent, p.HandleContent)
	mux.HandleFunc(TaskESSync, p.HandleESSync)
	mux.HandleFunc(TaskESSyncAll, p.HandleESSyncAll)
}

func (p *TaskProcessor) HandlePipeline(ctx context.Context, t *asynq.Task) error {
	var payload ContractPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("pipeline task started", "contract_id", payload.ContractID, "force", payload.Force)
	if err := p.pipeline.Run(ctx, payload.ContractID, payload.Force); err != nil {
		logger.Error("pipeline task failed", "contract_id", payload.ContractID, "error", err)
		return retryOrSkip(err)
	}
	logger.Info("pipeline task completed", "contract_id", payload.ContractID)
	return nil
}

func (p *TaskProcessor) HandleOCR(ctx context.Context, t *asynq.Task) error {
	var payload ContractPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	if err := p.pipeline.ProcessOCR(ctx, payload.ContractID); err != nil {
		logger.Error("ocr task failed", "contract_id", payload.ContractID, "error", err)
		return retryOrSkip(err)
	}
	return nil
}

func (p *TaskProcessor) HandleContent(ctx context.Context, t *asynq.Task) error {
	var payload ContractPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	if err := p.pipeline.ProcessContent(ctx, payload.ContractID); err != nil {
		logger.Error("content task failed", "contract_id", payload.ContractID, "error", err)
		return retryOrSkip(err)
	}
	return nil
}

func (p *TaskProcessor) HandleESSync(ctx context.Context, t *asynq.Task) error {
	var payload ContractPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	if _, err := p.content.SyncToElasticsearch(ctx, payload.ContractID); err != nil {
		logger.Error("es sync task failed", "contract_id", payload.ContractID, "error", err)
		return retryOrSkip(err)
	}
	return nil
}

// HandleESSyncAll walks every contract and pushes it into Elasticsearch.
// Per-contract failures are recorded on the contract row and do not stop
// the sweep.
func (p *TaskProcessor) HandleESSyncAll(ctx context.Context, t *asynq.Task) error {
	contracts, err := p.store.AllContracts(ctx)
	if err != nil {
		return retryOrSkip(err)
	}

	synced := 0
	failed := 0
	for _, contract := range contracts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := p.content.SyncToElasticsearch(ctx, contract.ID); err != nil {
			logger.Warn("contract sync failed during sync-all", "contract_id", contract.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	logger.Info("es sync-all completed", "synced", synced, "failed", failed, "total", len(contracts))
	return nil
}

// retryOrSkip keeps asynq from retrying failures that cannot succeed later.
func retryOrSkip(err error) error {
	switch utils.KindOf(err) {
	case utils.KindValidation, utils.KindNotFound, utils.KindConflict:
		return fmt.Errorf("%s: %w", err.Error(), asynq.SkipRetry)
	}
	return err
}
