package worker

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/chess-activity-tracker/internal/config"
	"github.com/chess-activity-tracker/internal/sync"
)

// SyncWorker runs scheduled batch syncs against the connection roster
type SyncWorker struct {
	service *sync.Service
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      stdsync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	service *sync.Service,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		service: service,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// runCycle syncs one roster page. The roster is ordered least recently
// synced first, so repeated cycles rotate through every connection.
func (w *SyncWorker) runCycle(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	summary, err := w.service.RunBatch(ctx, sync.BatchOptions{
		Limit: w.config.BatchSize,
	})
	if err != nil {
		w.logger.Error("sync cycle failed to start", "error", err)
		return
	}

	w.logger.Info("sync cycle completed",
		"run_id", summary.RunID,
		"duration", time.Since(startTime),
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"aborted", summary.Aborted,
	)
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.runCycle(ctx)
}
