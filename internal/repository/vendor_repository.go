package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/invoice-worker/internal/models"
	"gorm.io/gorm"
)

var ErrVendorNotFound = errors.New("vendor not found")

type VendorRepository struct {
	db *gorm.DB
}

func NewVendorRepository(db *gorm.DB) *VendorRepository {
	return &VendorRepository{db: db}
}

// GetByID retrieves vendor by ID
func (r *VendorRepository) GetByID(ctx context.Context, vendorID string) (*models.Vendor, error) {
	var vendor models.Vendor
	result := r.db.WithContext(ctx).First(&vendor, "id = ?", vendorID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrVendorNotFound
		}
		return nil, fmt.Errorf("failed to get vendor: %w", result.Error)
	}
	return &vendor, nil
}

// Create inserts a vendor
func (r *VendorRepository) Create(ctx context.Context, vendor *models.Vendor) error {
	now := time.Now()
	if vendor.CreatedAt.IsZero() {
		vendor.CreatedAt = now
	}
	vendor.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(vendor).Error; err != nil {
		return fmt.Errorf("failed to create vendor: %w", err)
	}
	return nil
}

// GetActivePrompt returns the vendor's highest-version active prompt, or nil
// when the vendor has none.
func (r *VendorRepository) GetActivePrompt(ctx context.Context, vendorID string) (*models.ExtractionPrompt, error) {
	var prompts []models.ExtractionPrompt
	result := r.db.WithContext(ctx).
		Where("vendor_id = ? AND is_active = ?", vendorID, true).
		Order("version DESC").
		Limit(1).
		Find(&prompts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get active prompt: %w", result.Error)
	}
	if len(prompts) == 0 {
		return nil, nil
	}
	return &prompts[0], nil
}

// CreatePrompt inserts an extraction prompt. A zero Version is assigned the
// vendor's next version number.
func (r *VendorRepository) CreatePrompt(ctx context.Context, prompt *models.ExtractionPrompt) error {
	if prompt.Version == 0 {
		var latest int
		err := r.db.WithContext(ctx).Model(&models.ExtractionPrompt{}).
			Select("COALESCE(MAX(version), 0)").
			Where("vendor_id = ?", prompt.VendorID).
			Scan(&latest).Error
		if err != nil {
			return fmt.Errorf("failed to get latest prompt version: %w", err)
		}
		prompt.Version = latest + 1
	}

	now := time.Now()
	prompt.CreatedAt = now
	prompt.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(prompt).Error; err != nil {
		return fmt.Errorf("failed to create prompt: %w", err)
	}
	return nil
}
