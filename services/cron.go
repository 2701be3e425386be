package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
)

// How long a stage may sit in processing before the sweep fails it.
const staleProcessingAge = time.Hour

// MaintenanceScheduler runs the worker's periodic janitor jobs. Its only
// job today is the stale-processing sweep that rescues contracts whose
// worker died mid-stage.
type MaintenanceScheduler struct {
	store     *database.Store
	scheduler *gocron.Scheduler
}

func NewMaintenanceScheduler(store *database.Store) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		store:     store,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start registers the jobs and launches the scheduler in the background.
func (m *MaintenanceScheduler) Start() error {
	if _, err := m.scheduler.Every(1).Hour().Do(m.sweepStaleProcessing); err != nil {
		return err
	}
	m.scheduler.StartAsync()
	logger.Info("maintenance scheduler started", "stale_age", staleProcessingAge.String())
	return nil
}

func (m *MaintenanceScheduler) Stop() {
	m.scheduler.Stop()
}

func (m *MaintenanceScheduler) sweepStaleProcessing() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := m.store.FailStaleProcessing(ctx, staleProcessingAge)
	if err != nil {
		logger.Error("stale processing sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.Warn("stale processing stages marked failed", "count", n)
	}
}
