package models

import "time"

// Vendor is the issuer whose invoices a batch contains. Read-only for the pipeline.
type Vendor struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name"`
	Code      string    `gorm:"column:code;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Vendor) TableName() string {
	return "vendors"
}

// ExtractionPrompt is a vendor-specific instruction text for the AI extractor.
// Only the highest active version is used.
type ExtractionPrompt struct {
	ID         string    `gorm:"column:id;primaryKey"`
	VendorID   string    `gorm:"column:vendor_id;index"`
	PromptText string    `gorm:"column:prompt_text"`
	Version    int       `gorm:"column:version"`
	IsActive   bool      `gorm:"column:is_active"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (ExtractionPrompt) TableName() string {
	return "extraction_prompts"
}
