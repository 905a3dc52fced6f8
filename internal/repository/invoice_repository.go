package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/invoice-worker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvoiceNotFound = errors.New("invoice not found")

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// CreateWithLineItems inserts an invoice and then its line items. Callers run
// it inside Store.Transaction so a line-item failure leaves no invoice behind.
func (r *InvoiceRepository) CreateWithLineItems(ctx context.Context, invoice *models.Invoice, items []models.LineItem) error {
	now := time.Now()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(invoice).Error; err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].InvoiceID = invoice.ID
		items[i].CreatedAt = now
	}
	if err := r.db.WithContext(ctx).Create(&items).Error; err != nil {
		return fmt.Errorf("failed to create line items: %w", err)
	}
	return nil
}

// GetByID retrieves an invoice with its line items in line order
func (r *InvoiceRepository) GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	var invoice models.Invoice
	result := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("line_number ASC")
		}).
		First(&invoice, "id = ?", invoiceID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", result.Error)
	}
	return &invoice, nil
}

// ListByBatch retrieves a batch's invoices, lowest confidence first so the
// review queue can take them in order
func (r *InvoiceRepository) ListByBatch(ctx context.Context, batchID string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	result := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("confidence_score ASC").
		Find(&invoices)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", result.Error)
	}
	return invoices, nil
}
