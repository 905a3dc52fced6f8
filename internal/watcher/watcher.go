package watcher

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vipul43/invoice-worker/internal/config"
	"github.com/vipul43/invoice-worker/internal/models"
)

// BatchLister lists batches by status, oldest first.
type BatchLister interface {
	ListByStatus(ctx context.Context, status models.BatchStatus, limit int) ([]models.Batch, error)
}

// BatchRunner is the part of the orchestrator the watcher drives.
type BatchRunner interface {
	RecoverOrphans(ctx context.Context) (int, error)
	StartBatchAsync(ctx context.Context, batchID string) error
}

type Watcher struct {
	pollInterval   time.Duration
	recoverOrphans bool
	batchLimit     int
	batches        BatchLister
	runner         BatchRunner
	log            *logrus.Logger
}

func New(cfg *config.Config, batches BatchLister, runner BatchRunner, log *logrus.Logger) *Watcher {
	return &Watcher{
		pollInterval:   time.Duration(cfg.PollInterval) * time.Second,
		recoverOrphans: cfg.RecoverOrphans,
		batchLimit:     cfg.MaxConcurrentBatches,
		batches:        batches,
		runner:         runner,
		log:            log,
	}
}

// Start recovers runs orphaned by a previous process, then polls for pending
// batches until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.WithField("poll_interval", w.pollInterval.String()).Info("starting watcher for pending batches")

	if w.recoverOrphans {
		n, err := w.runner.RecoverOrphans(ctx)
		if err != nil {
			w.log.WithError(err).Warn("failed to recover orphaned batches")
		} else if n > 0 {
			w.log.WithField("batches", n).Warn("recovered orphaned batches, resume them to finish")
		}
	}

	// Process any pending batches from previous runs
	if err := w.startPendingBatches(ctx); err != nil {
		w.log.WithError(err).Warn("failed to start pending batches on startup")
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := w.startPendingBatches(ctx); err != nil {
				w.log.WithError(err).Error("error starting pending batches")
			}
		}
	}
}
