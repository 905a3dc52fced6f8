package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Invoice status constants
const (
	InvoiceStatusProcessed = "processed"
	InvoiceStatusReviewed  = "reviewed"
)

// JSONB type for GORM to handle PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Value implements driver.Valuer for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Invoice is the persisted, normalized output of one processed file.
// It exclusively owns its LineItems.
type Invoice struct {
	ID       string `gorm:"column:id;primaryKey"`
	VendorID string `gorm:"column:vendor_id;index"`
	BatchID  string `gorm:"column:batch_id;index"`

	InvoiceNumber      *string    `gorm:"column:invoice_number;index"`
	AccountNumber      *string    `gorm:"column:account_number"`
	PONumber           *string    `gorm:"column:po_number"`
	CustomerName       *string    `gorm:"column:customer_name"`
	CustomerAddress    *string    `gorm:"column:customer_address"`
	ContactEmail       *string    `gorm:"column:contact_email"`
	ContactPhone       *string    `gorm:"column:contact_phone"`
	InvoiceDate        *time.Time `gorm:"column:invoice_date"`
	DueDate            *time.Time `gorm:"column:due_date"`
	BillingPeriodStart *time.Time `gorm:"column:billing_period_start"`
	BillingPeriodEnd   *time.Time `gorm:"column:billing_period_end"`
	Currency           *string    `gorm:"column:currency"`

	SubtotalAmount    *float64 `gorm:"column:subtotal_amount"`
	TaxAmount         *float64 `gorm:"column:tax_amount"`
	FeeAmount         *float64 `gorm:"column:fee_amount"`
	DiscountAmount    *float64 `gorm:"column:discount_amount"`
	ShippingAmount    *float64 `gorm:"column:shipping_amount"`
	PreviousBalance   *float64 `gorm:"column:previous_balance"`
	PaymentsApplied   *float64 `gorm:"column:payments_applied"`
	AdjustmentsAmount *float64 `gorm:"column:adjustments_amount"`
	TotalAmount       *float64 `gorm:"column:total_amount"`

	ConfidenceScore  float64 `gorm:"column:confidence_score;index"`
	ValidationIssues JSONB   `gorm:"column:validation_issues;type:jsonb"`
	RawExtraction    JSONB   `gorm:"column:raw_extraction;type:jsonb"`

	SourceFilePath   string   `gorm:"column:source_file_path"`
	SourceFileType   FileType `gorm:"column:source_file_type"`
	OriginalFilename string   `gorm:"column:original_filename"`
	Status           string   `gorm:"column:status"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`

	LineItems []LineItem `gorm:"foreignKey:InvoiceID"`
}

// TableName specifies the table name for GORM
func (Invoice) TableName() string {
	return "invoices"
}

// LineItem is one charge line of an invoice.
type LineItem struct {
	ID             string    `gorm:"column:id;primaryKey"`
	InvoiceID      string    `gorm:"column:invoice_id;index"`
	LineNumber     int       `gorm:"column:line_number"`
	Description    *string   `gorm:"column:description"`
	Category       *string   `gorm:"column:category"`
	ChargeType     *string   `gorm:"column:charge_type"`
	Quantity       *float64  `gorm:"column:quantity"`
	UnitPrice      *float64  `gorm:"column:unit_price"`
	SubtotalAmount *float64  `gorm:"column:subtotal_amount"`
	TaxAmount      *float64  `gorm:"column:tax_amount"`
	FeeAmount      *float64  `gorm:"column:fee_amount"`
	TotalAmount    *float64  `gorm:"column:total_amount"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (LineItem) TableName() string {
	return "line_items"
}
