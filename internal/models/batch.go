package models

import "time"

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"    // Files attached, no run yet
	BatchStatusProcessing BatchStatus = "processing" // A run is driving pending files
	BatchStatusCompleted  BatchStatus = "completed"  // Every file processed
	BatchStatusPartial    BatchStatus = "partial"    // Some files processed, some failed
	BatchStatusFailed     BatchStatus = "failed"     // No file processed, or the run aborted
)

// IsTerminal reports whether a run has finished with this status.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusPartial || s == BatchStatusFailed
}

// IsResumable reports whether ResumeBatch accepts a batch in this status.
func (s BatchStatus) IsResumable() bool {
	return s == BatchStatusFailed || s == BatchStatusPartial
}

// Batch is one bulk processing request for a single vendor.
type Batch struct {
	ID             string      `gorm:"column:id;primaryKey"`
	VendorID       string      `gorm:"column:vendor_id;index"`
	TotalFileCount int         `gorm:"column:total_file_count"`
	ProcessedCount int         `gorm:"column:processed_count"`
	FailedCount    int         `gorm:"column:failed_count"`
	Status         BatchStatus `gorm:"column:status;index"`
	StartedAt      *time.Time  `gorm:"column:started_at"`
	CompletedAt    *time.Time  `gorm:"column:completed_at"`
	ErrorMessage   *string     `gorm:"column:error_message"`
	RunID          *string     `gorm:"column:run_id"` // owner of the current or last run
	CreatedAt      time.Time   `gorm:"column:created_at"`
	UpdatedAt      time.Time   `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Batch) TableName() string {
	return "processing_batches"
}
