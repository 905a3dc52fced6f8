// Package repotest opens throwaway SQLite databases with the pipeline schema
// for tests that need a real gorm handle.
package repotest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/invoice-worker/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open returns an in-memory database private to t. The pool is pinned to a
// single connection so the in-memory database lives for the whole test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&models.Vendor{},
		&models.ExtractionPrompt{},
		&models.Batch{},
		&models.BatchFile{},
		&models.Invoice{},
		&models.LineItem{},
	)
	if err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// SeedVendor inserts a vendor and returns it.
func SeedVendor(t testing.TB, db *gorm.DB, code string) models.Vendor {
	t.Helper()
	now := time.Now()
	v := models.Vendor{ID: uuid.NewString(), Name: code + " Inc", Code: code, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(&v).Error; err != nil {
		t.Fatalf("seed vendor: %v", err)
	}
	return v
}

// SeedBatch inserts a pending batch with one pending PDF file per filename.
// Files get increasing seq values and a shared created_at.
func SeedBatch(t testing.TB, db *gorm.DB, vendorID string, filenames ...string) (models.Batch, []models.BatchFile) {
	t.Helper()
	now := time.Now()
	batch := models.Batch{
		ID:             uuid.NewString(),
		VendorID:       vendorID,
		TotalFileCount: len(filenames),
		Status:         models.BatchStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.Create(&batch).Error; err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	files := make([]models.BatchFile, 0, len(filenames))
	for i, name := range filenames {
		files = append(files, models.BatchFile{
			ID:        uuid.NewString(),
			BatchID:   batch.ID,
			Filename:  name,
			FilePath:  "/uploads/" + batch.ID + "/" + name,
			FileType:  models.FileTypePDF,
			Status:    models.FileStatusPending,
			Seq:       int64(i + 1),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if len(files) > 0 {
		if err := db.Create(&files).Error; err != nil {
			t.Fatalf("seed files: %v", err)
		}
	}
	return batch, files
}
