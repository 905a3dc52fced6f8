package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/invoice-worker/internal/models"
	"gorm.io/gorm"
)

var (
	ErrBatchNotFound = errors.New("batch not found")
	// ErrRunSuperseded means the batch is no longer processing under the
	// caller's run: it finished, or another run took it over.
	ErrRunSuperseded = errors.New("batch run superseded")
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a batch row
func (r *BatchRepository) Create(ctx context.Context, batch *models.Batch) error {
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// GetByID retrieves batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, batchID string) (*models.Batch, error) {
	var batch models.Batch
	result := r.db.WithContext(ctx).First(&batch, "id = ?", batchID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get batch: %w", result.Error)
	}
	return &batch, nil
}

// ListByStatus retrieves batches in the given status, oldest first
func (r *BatchRepository) ListByStatus(ctx context.Context, status models.BatchStatus, limit int) ([]models.Batch, error) {
	var batches []models.Batch
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("failed to query %s batches: %w", status, err)
	}
	return batches, nil
}

// MarkProcessing moves a batch into processing only if its current status is
// one of from, and records runID as the run that owns it. It clears
// completed_at and error_message and stamps started_at.
// Returns false when the batch was not in an allowed status.
func (r *BatchRepository) MarkProcessing(ctx context.Context, batchID string, from []models.BatchStatus, runID string, startedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND status IN ?", batchID, from).
		Updates(map[string]interface{}{
			"status":        models.BatchStatusProcessing,
			"run_id":        runID,
			"started_at":    startedAt,
			"completed_at":  nil,
			"error_message": nil,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark batch processing: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// RestoreStatus puts a batch back to prev after run runID could not be
// scheduled. A batch claimed by another run since then is left alone.
func (r *BatchRepository) RestoreStatus(ctx context.Context, runID string, prev models.Batch) error {
	result := r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND status = ? AND run_id = ?", prev.ID, models.BatchStatusProcessing, runID).
		Updates(map[string]interface{}{
			"status":        prev.Status,
			"run_id":        prev.RunID,
			"started_at":    prev.StartedAt,
			"completed_at":  prev.CompletedAt,
			"error_message": prev.ErrorMessage,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to restore batch status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missOrSuperseded(ctx, prev.ID)
	}
	return nil
}

// Finish records a terminal status for the run runID. The batch must still be
// processing under that run; an empty runID matches a run that left no id.
// errorMessage is only set for whole-batch aborts.
func (r *BatchRepository) Finish(ctx context.Context, batchID, runID string, status models.BatchStatus, completedAt time.Time, errorMessage *string) error {
	query := r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND status = ?", batchID, models.BatchStatusProcessing)
	if runID == "" {
		query = query.Where("run_id IS NULL")
	} else {
		query = query.Where("run_id = ?", runID)
	}
	result := query.Updates(map[string]interface{}{
		"status":        status,
		"completed_at":  completedAt,
		"error_message": errorMessage,
		"updated_at":    time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to finish batch: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missOrSuperseded(ctx, batchID)
	}
	return nil
}

func (r *BatchRepository) missOrSuperseded(ctx context.Context, batchID string) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Batch{}).Where("id = ?", batchID).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to get batch: %w", err)
	}
	if n == 0 {
		return ErrBatchNotFound
	}
	return fmt.Errorf("batch %s: %w", batchID, ErrRunSuperseded)
}

// Counts is a batch's file tally by status.
type Counts struct {
	Pending    int
	Processing int
	Processed  int
	Failed     int
}

// Total is the number of files counted.
func (c Counts) Total() int {
	return c.Pending + c.Processing + c.Processed + c.Failed
}

// RefreshCounts recomputes processed_count and failed_count from batch_files
// and stores them on the batch row.
func (r *BatchRepository) RefreshCounts(ctx context.Context, batchID string) (Counts, error) {
	counts, err := countFilesByStatus(ctx, r.db, batchID)
	if err != nil {
		return Counts{}, err
	}

	result := r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			"processed_count": counts.Processed,
			"failed_count":    counts.Failed,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return Counts{}, fmt.Errorf("failed to update batch counters: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return Counts{}, ErrBatchNotFound
	}
	return counts, nil
}

func countFilesByStatus(ctx context.Context, db *gorm.DB, batchID string) (Counts, error) {
	var rows []struct {
		Status models.FileStatus
		N      int
	}
	err := db.WithContext(ctx).Model(&models.BatchFile{}).
		Select("status, COUNT(*) AS n").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count batch files: %w", err)
	}

	var counts Counts
	for _, row := range rows {
		switch row.Status {
		case models.FileStatusPending:
			counts.Pending = row.N
		case models.FileStatusProcessing:
			counts.Processing = row.N
		case models.FileStatusProcessed:
			counts.Processed = row.N
		case models.FileStatusFailed:
			counts.Failed = row.N
		}
	}
	return counts, nil
}
