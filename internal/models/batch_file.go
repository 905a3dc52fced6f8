package models

import (
	"strings"
	"time"
)

type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusProcessed  FileStatus = "processed"
	FileStatusFailed     FileStatus = "failed"
)

type FileType string

const (
	FileTypePDF  FileType = "PDF"
	FileTypeHTML FileType = "HTML"
)

// ParseFileType maps a declared type or a filename extension to a FileType.
func ParseFileType(s string) (FileType, bool) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "pdf":
		return FileTypePDF, true
	case "html", "htm":
		return FileTypeHTML, true
	}
	return "", false
}

// BatchFile is one uploaded document's processing record.
// InvoiceID is set if and only if Status is processed. Seq is the upload
// position inside the batch and breaks created_at ties.
type BatchFile struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	BatchID              string     `gorm:"column:batch_id;index"`
	Filename             string     `gorm:"column:filename"`
	FilePath             string     `gorm:"column:file_path"`
	FileType             FileType   `gorm:"column:file_type"`
	Status               FileStatus `gorm:"column:status;index"`
	InvoiceID            *string    `gorm:"column:invoice_id"`
	ProcessingDurationMs *int64     `gorm:"column:processing_duration_ms"`
	ErrorMessage         *string    `gorm:"column:error_message"`
	ProcessedAt          *time.Time `gorm:"column:processed_at"`
	Seq                  int64      `gorm:"column:seq"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (BatchFile) TableName() string {
	return "batch_files"
}
