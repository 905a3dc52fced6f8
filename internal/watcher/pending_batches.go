package watcher

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/vipul43/invoice-worker/internal/common"
	"github.com/vipul43/invoice-worker/internal/models"
	"github.com/vipul43/invoice-worker/internal/service"
)

// startPendingBatches hands the oldest pending batches to the orchestrator
// until the worker pool is full.
func (w *Watcher) startPendingBatches(ctx context.Context) error {
	batches, err := w.batches.ListByStatus(ctx, models.BatchStatusPending, w.batchLimit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}

	w.log.WithField("batches", len(batches)).Info("found pending batches")

	for _, b := range batches {
		entry := w.log.WithFields(logrus.Fields{"batch_id": b.ID, "vendor_id": b.VendorID})

		err := w.runner.StartBatchAsync(ctx, b.ID)
		switch {
		case err == nil:
			entry.WithField("files", b.TotalFileCount).Info("batch scheduled")
		case errors.Is(err, common.ErrAlreadyProcessing), errors.Is(err, common.ErrInvalidState):
			// started by someone else since the list was read
			entry.WithError(err).Debug("batch skipped")
		case errors.Is(err, service.ErrDispatcherFull):
			entry.Debug("worker pool full, retrying next poll")
			return nil
		default:
			entry.WithError(err).Error("failed to start batch")
		}
	}

	return nil
}
