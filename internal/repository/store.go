package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store is the persistence gateway. A Store built from a transaction handle
// scopes every repository call to that transaction.
type Store struct {
	db *gorm.DB

	Vendors  *VendorRepository
	Batches  *BatchRepository
	Files    *BatchFileRepository
	Invoices *InvoiceRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		Vendors:  NewVendorRepository(db),
		Batches:  NewBatchRepository(db),
		Files:    NewBatchFileRepository(db),
		Invoices: NewInvoiceRepository(db),
	}
}

// Transaction runs fn inside a single database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// Ping checks connectivity of the underlying pool.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
