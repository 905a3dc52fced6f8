package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vipul43/invoice-worker/internal/extraction"
	"github.com/vipul43/invoice-worker/internal/logger"
	"github.com/vipul43/invoice-worker/internal/models"
	"github.com/vipul43/invoice-worker/internal/repository"
	"github.com/vipul43/invoice-worker/internal/repository/repotest"
)

type mockTextExtractor struct {
	extractTextFunc func(ctx context.Context, path string, fileType models.FileType) (string, error)
}

func (m *mockTextExtractor) ExtractText(ctx context.Context, path string, fileType models.FileType) (string, error) {
	if m.extractTextFunc != nil {
		return m.extractTextFunc(ctx, path, fileType)
	}
	return "INVOICE " + path, nil
}

type mockExtractor struct {
	mu      sync.Mutex
	calls   []string // document texts, in call order
	prompts []string

	extractFunc func(ctx context.Context, documentText, prompt string) (*extraction.Candidate, error)
}

func (m *mockExtractor) Extract(ctx context.Context, documentText, prompt string) (*extraction.Candidate, error) {
	m.mu.Lock()
	m.calls = append(m.calls, documentText)
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.extractFunc != nil {
		return m.extractFunc(ctx, documentText, prompt)
	}
	return goodCandidate("INV-1"), nil
}

func (m *mockExtractor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func floatPtr(f float64) *float64 {
	return &f
}

// goodCandidate scores 1.0: every scored field present, totals consistent.
func goodCandidate(number string) *extraction.Candidate {
	return &extraction.Candidate{
		Header: extraction.InvoiceHeader{
			InvoiceNumber: number,
			CustomerName:  "Globex",
			InvoiceDate:   "2024-03-01",
			DueDate:       "2024-03-31",
			Currency:      "USD",
			TotalAmount:   floatPtr(30),
		},
		LineItems: []extraction.LineItem{
			{Description: "Hosting", ChargeType: "recurring", TotalAmount: floatPtr(10)},
			{Description: "Support", ChargeType: "recurring", TotalAmount: floatPtr(20)},
		},
		Raw: map[string]any{"invoice_header": map[string]any{"invoice_number": number}},
	}
}

var errProviderDown = errors.New("provider unavailable")

type harness struct {
	db        *gorm.DB
	store     *repository.Store
	text      *mockTextExtractor
	extractor *mockExtractor
	orch      *Orchestrator
	vendor    models.Vendor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := repotest.Open(t)
	store := repository.NewStore(db)
	h := &harness{
		db:        db,
		store:     store,
		text:      &mockTextExtractor{},
		extractor: &mockExtractor{},
		vendor:    repotest.SeedVendor(t, db, "ACME"),
	}
	proc := NewFileProcessor(store, h.text, h.extractor, logger.Discard())
	h.orch = NewOrchestrator(store, store, proc, logger.Discard())
	return h
}

func (h *harness) batch(t *testing.T, id string) *models.Batch {
	t.Helper()
	b, err := h.store.Batches.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (h *harness) files(t *testing.T, batchID string) []models.BatchFile {
	t.Helper()
	files, err := h.store.Files.ListByBatch(context.Background(), batchID)
	require.NoError(t, err)
	return files
}

func (h *harness) invoiceCount(t *testing.T, batchID string) int {
	t.Helper()
	invoices, err := h.orch.ListInvoices(context.Background(), batchID)
	require.NoError(t, err)
	return len(invoices)
}

// assertInvariants checks the counter bound and the invoice/status link for
// every file of the batch.
func (h *harness) assertInvariants(t *testing.T, batchID string) {
	t.Helper()
	b := h.batch(t, batchID)
	assert.LessOrEqual(t, b.ProcessedCount+b.FailedCount, b.TotalFileCount)

	for _, f := range h.files(t, batchID) {
		if f.Status == models.FileStatusProcessed {
			assert.NotNil(t, f.InvoiceID, "processed file %s has no invoice", f.Filename)
		} else {
			assert.Nil(t, f.InvoiceID, "%s file %s has an invoice", f.Status, f.Filename)
		}
	}
}
