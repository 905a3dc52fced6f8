package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/invoice-worker/internal/models"
	"gorm.io/gorm"
)

// ErrFileStateConflict means a conditional status update matched no row: the
// file was not in the status the caller expected, or its batch is no longer
// processing under the caller's run.
var ErrFileStateConflict = errors.New("batch file not in expected status")

type BatchFileRepository struct {
	db *gorm.DB
}

func NewBatchFileRepository(db *gorm.DB) *BatchFileRepository {
	return &BatchFileRepository{db: db}
}

// BulkCreate creates multiple batch files in a single statement
func (r *BatchFileRepository) BulkCreate(ctx context.Context, files []models.BatchFile) error {
	if len(files) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&files).Error; err != nil {
		return fmt.Errorf("failed to create batch files: %w", err)
	}
	return nil
}

// ListByStatus retrieves a batch's files in the given status in upload order
// (created_at, then seq)
func (r *BatchFileRepository) ListByStatus(ctx context.Context, batchID string, status models.FileStatus) ([]models.BatchFile, error) {
	var files []models.BatchFile
	result := r.db.WithContext(ctx).
		Where("batch_id = ? AND status = ?", batchID, status).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&files)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query %s files: %w", status, result.Error)
	}
	return files, nil
}

// ListByBatch retrieves all files of a batch in upload order
func (r *BatchFileRepository) ListByBatch(ctx context.Context, batchID string) ([]models.BatchFile, error) {
	var files []models.BatchFile
	result := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&files)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query batch files: %w", result.Error)
	}
	return files, nil
}

// CountByStatus tallies a batch's files per status
func (r *BatchFileRepository) CountByStatus(ctx context.Context, batchID string) (Counts, error) {
	return countFilesByStatus(ctx, r.db, batchID)
}

// MarkProcessing claims a pending file for run runID
func (r *BatchFileRepository) MarkProcessing(ctx context.Context, fileID, runID string) error {
	return r.transition(ctx, fileID, runID, models.FileStatusPending, map[string]interface{}{
		"status":        models.FileStatusProcessing,
		"error_message": nil,
		"updated_at":    time.Now(),
	})
}

// MarkProcessed links the file to its invoice. The file must be processing.
func (r *BatchFileRepository) MarkProcessed(ctx context.Context, fileID, runID, invoiceID string, durationMs int64) error {
	now := time.Now()
	return r.transition(ctx, fileID, runID, models.FileStatusProcessing, map[string]interface{}{
		"status":                 models.FileStatusProcessed,
		"invoice_id":             invoiceID,
		"processing_duration_ms": durationMs,
		"error_message":          nil,
		"processed_at":           now,
		"updated_at":             now,
	})
}

// MarkFailed records a failure for a processing file.
func (r *BatchFileRepository) MarkFailed(ctx context.Context, fileID, runID, errorMessage string, durationMs int64) error {
	now := time.Now()
	return r.transition(ctx, fileID, runID, models.FileStatusProcessing, map[string]interface{}{
		"status":                 models.FileStatusFailed,
		"invoice_id":             nil,
		"processing_duration_ms": durationMs,
		"error_message":          errorMessage,
		"processed_at":           now,
		"updated_at":             now,
	})
}

// ResetForResume moves a batch's files in any of the from statuses back to
// pending and clears their outcome. It returns the files as they were before
// the reset so a run that never starts can put them back.
func (r *BatchFileRepository) ResetForResume(ctx context.Context, batchID string, from []models.FileStatus) ([]models.BatchFile, error) {
	var files []models.BatchFile
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND status IN ?", batchID, from).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query files to reset: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	result := r.db.WithContext(ctx).Model(&models.BatchFile{}).
		Where("id IN ? AND status IN ?", ids, from).
		Updates(map[string]interface{}{
			"status":                 models.FileStatusPending,
			"invoice_id":             nil,
			"error_message":          nil,
			"processing_duration_ms": nil,
			"processed_at":           nil,
			"updated_at":             time.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to reset files for resume: %w", result.Error)
	}
	return files, nil
}

// RestoreReset undoes ResetForResume for files that are still pending.
func (r *BatchFileRepository) RestoreReset(ctx context.Context, files []models.BatchFile) error {
	for _, f := range files {
		result := r.db.WithContext(ctx).Model(&models.BatchFile{}).
			Where("id = ? AND status = ?", f.ID, models.FileStatusPending).
			Updates(map[string]interface{}{
				"status":                 f.Status,
				"invoice_id":             f.InvoiceID,
				"error_message":          f.ErrorMessage,
				"processing_duration_ms": f.ProcessingDurationMs,
				"processed_at":           f.ProcessedAt,
				"updated_at":             time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to restore file %s: %w", f.ID, result.Error)
		}
	}
	return nil
}

// transition updates a file only if it is currently in status from and its
// batch is processing under run runID.
func (r *BatchFileRepository) transition(ctx context.Context, fileID, runID string, from models.FileStatus, updates map[string]interface{}) error {
	owned := r.db.WithContext(ctx).Model(&models.Batch{}).
		Select("id").
		Where("run_id = ? AND status = ?", runID, models.BatchStatusProcessing)
	result := r.db.WithContext(ctx).Model(&models.BatchFile{}).
		Where("id = ? AND status = ? AND batch_id IN (?)", fileID, from, owned).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update file %s: %w", fileID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("file %s: %w (expected %s under run %s)", fileID, ErrFileStateConflict, from, runID)
	}
	return nil
}
