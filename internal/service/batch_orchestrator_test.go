package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vipul43/invoice-worker/internal/common"
	"github.com/vipul43/invoice-worker/internal/extraction"
	"github.com/vipul43/invoice-worker/internal/logger"
	"github.com/vipul43/invoice-worker/internal/models"
	"github.com/vipul43/invoice-worker/internal/repository/repotest"
	"github.com/vipul43/invoice-worker/internal/storage"
)

// failOn returns an extract func that fails for documents whose text contains
// one of names and succeeds otherwise.
func failOn(err error, names ...string) func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
	return func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		for _, n := range names {
			if strings.HasSuffix(text, "/"+n) {
				return nil, err
			}
		}
		return goodCandidate("INV-" + text[len(text)-5:]), nil
	}
}

func TestStartBatch_AllFilesProcessed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf", "c.pdf")

	require.NoError(t, h.orch.StartBatch(ctx, batch.ID))

	b := h.batch(t, batch.ID)
	assert.Equal(t, models.BatchStatusCompleted, b.Status)
	assert.Equal(t, 3, b.ProcessedCount)
	assert.Equal(t, 0, b.FailedCount)
	assert.NotNil(t, b.StartedAt)
	assert.NotNil(t, b.CompletedAt)
	assert.Nil(t, b.ErrorMessage)

	for _, f := range h.files(t, batch.ID) {
		assert.Equal(t, models.FileStatusProcessed, f.Status)
		require.NotNil(t, f.InvoiceID)
		assert.NotNil(t, f.ProcessingDurationMs)
		assert.NotNil(t, f.ProcessedAt)

		inv, err := h.store.Invoices.GetByID(ctx, *f.InvoiceID)
		require.NoError(t, err)
		assert.Equal(t, batch.ID, inv.BatchID)
		assert.Equal(t, h.vendor.ID, inv.VendorID)
		assert.Equal(t, f.Filename, inv.OriginalFilename)
		assert.Len(t, inv.LineItems, 2)
	}

	progress, err := h.orch.GetProgress(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, progress.CompletionPercentage)
	assert.False(t, progress.Running)
	assert.True(t, progress.Done)
	assert.False(t, h.orch.registry.IsRunning(batch.ID))
	h.assertInvariants(t, batch.ID)
}

func TestStartBatch_FailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "f1.pdf", "f2.pdf", "f3.pdf", "f4.pdf", "f5.pdf")
	h.extractor.extractFunc = failOn(common.NewAppError(common.CodeExtraction, "timeout", errProviderDown), "f3.pdf")

	require.NoError(t, h.orch.StartBatch(ctx, batch.ID))

	assert.Len(t, h.extractor.Calls(), 5, "files after the failure are still processed")

	files := h.files(t, batch.ID)
	for _, f := range files {
		if f.Filename == "f3.pdf" {
			assert.Equal(t, models.FileStatusFailed, f.Status)
			require.NotNil(t, f.ErrorMessage)
			assert.True(t, strings.HasPrefix(*f.ErrorMessage, "AI extraction failed"), *f.ErrorMessage)
			continue
		}
		assert.Equal(t, models.FileStatusProcessed, f.Status, f.Filename)
	}

	b := h.batch(t, batch.ID)
	assert.Equal(t, models.BatchStatusPartial, b.Status)
	assert.Equal(t, 4, b.ProcessedCount)
	assert.Equal(t, 1, b.FailedCount)
	assert.Nil(t, b.ErrorMessage, "file failures never set the batch error")
	h.assertInvariants(t, batch.ID)
}

func TestStartBatch_AllFilesFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf")
	h.text.extractTextFunc = func(ctx context.Context, path string, fileType models.FileType) (string, error) {
		return "   \n ", nil
	}

	require.NoError(t, h.orch.StartBatch(ctx, batch.ID))

	b := h.batch(t, batch.ID)
	assert.Equal(t, models.BatchStatusFailed, b.Status)
	assert.Equal(t, 0, b.ProcessedCount)
	assert.Equal(t, 2, b.FailedCount)
	assert.Nil(t, b.ErrorMessage)
	assert.Empty(t, h.extractor.Calls())

	for _, f := range h.files(t, batch.ID) {
		require.NotNil(t, f.ErrorMessage)
		assert.True(t, strings.HasPrefix(*f.ErrorMessage, "could not read document"), *f.ErrorMessage)
	}
	h.assertInvariants(t, batch.ID)
}

func TestStartBatch_ErrorKindsAreDistinguishable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "empty.pdf", "down.pdf", "junk.pdf", "ok.pdf")
	h.text.extractTextFunc = func(ctx context.Context, path string, fileType models.FileType) (string, error) {
		if strings.HasSuffix(path, "empty.pdf") {
			return "", common.Errorf(common.CodeEmptyDocument, "no text")
		}
		return "INVOICE " + path, nil
	}
	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		switch {
		case strings.HasSuffix(text, "down.pdf"):
			return nil, errProviderDown
		case strings.HasSuffix(text, "junk.pdf"):
			return extraction.ParseCandidate("not json at all")
		}
		return goodCandidate("INV-OK"), nil
	}

	require.NoError(t, h.orch.StartBatch(ctx, batch.ID))

	want := map[string]string{
		"empty.pdf": "could not read document",
		"down.pdf":  "AI extraction failed",
		"junk.pdf":  "AI response malformed",
	}
	for _, f := range h.files(t, batch.ID) {
		prefix, shouldFail := want[f.Filename]
		if !shouldFail {
			assert.Equal(t, models.FileStatusProcessed, f.Status)
			continue
		}
		assert.Equal(t, models.FileStatusFailed, f.Status, f.Filename)
		require.NotNil(t, f.ErrorMessage)
		assert.True(t, strings.HasPrefix(*f.ErrorMessage, prefix), "%s: %s", f.Filename, *f.ErrorMessage)
	}
	assert.Equal(t, models.BatchStatusPartial, h.batch(t, batch.ID).Status)
}

func TestStartBatch_LineItemFailureLeavesNoInvoice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf")

	// fail every line item insert for b.pdf's invoice
	err := h.db.Callback().Create().Before("gorm:create").Register("test:fail_line_items", func(tx *gorm.DB) {
		if tx.Statement.Table != "line_items" {
			return
		}
		if items, ok := tx.Statement.Dest.(*[]models.LineItem); ok && len(*items) > 0 && (*items)[0].Description != nil && *(*items)[0].Description == "poison" {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	require.NoError(t, err)

	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		c := goodCandidate("INV-X")
		if strings.HasSuffix(text, "b.pdf") {
			c.LineItems[0].Description = "poison"
		}
		return c, nil
	}

	require.NoError(t, h.orch.StartBatch(ctx, batch.ID))

	assert.Equal(t, 1, h.invoiceCount(t, batch.ID), "the failed file's invoice was rolled back")

	for _, f := range h.files(t, batch.ID) {
		if f.Filename == "b.pdf" {
			assert.Equal(t, models.FileStatusFailed, f.Status)
			require.NotNil(t, f.ErrorMessage)
			assert.True(t, strings.HasPrefix(*f.ErrorMessage, "database write failed"), *f.ErrorMessage)
		}
	}
	assert.Equal(t, models.BatchStatusPartial, h.batch(t, batch.ID).Status)
	h.assertInvariants(t, batch.ID)
}

func TestStartBatch_ProcessesFilesInUploadOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, files := repotest.SeedBatch(t, h.db, h.vendor.ID, "1.pdf", "2.pdf", "3.pdf", "4.pdf")

	// an earlier upload time wins over seq
	require.NoError(t, h.db.Model(&models.BatchFile{}).Where("id = ?", files[3].ID).
		Update("created_at", files[0].CreatedAt.Add(-time.Minute)).Error)

	require.NoError(t, h.orch.StartBatch(ctx, batch.ID))

	calls := h.extractor.Calls()
	require.Len(t, calls, 4)
	var order []string
	for _, c := range calls {
		order = append(order, c[strings.LastIndex(c, "/")+1:])
	}
	assert.Equal(t, []string{"4.pdf", "1.pdf", "2.pdf", "3.pdf"}, order)
}

func TestStartBatch_ProgressVisibleMidRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf", "c.pdf")

	var seen *Progress
	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		if strings.HasSuffix(text, "b.pdf") {
			p, err := h.orch.GetProgress(ctx, batch.ID)
			require.NoError(t, err)
			seen = p
		}
		return goodCandidate("INV-1"), nil
	}

	require.NoError(t, h.orch.StartBatch(ctx, batch.ID))

	require.NotNil(t, seen)
	assert.Equal(t, models.BatchStatusProcessing, seen.Status)
	assert.Equal(t, 1, seen.ProcessedFiles)
	assert.Equal(t, 1, seen.ProcessingFiles)
	assert.Equal(t, 1, seen.PendingFiles)
	assert.Equal(t, 33, seen.CompletionPercentage)
	assert.True(t, seen.Running)
	assert.False(t, seen.Done)
}

func TestStartBatch_Preconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	err := h.orch.StartBatch(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf")
	require.NoError(t, h.orch.StartBatch(ctx, batch.ID))
	before := h.batch(t, batch.ID)

	err = h.orch.StartBatch(ctx, batch.ID)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	after := h.batch(t, batch.ID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.CompletedAt, after.CompletedAt)
	assert.False(t, h.orch.registry.IsRunning(batch.ID))
	assert.Len(t, h.extractor.Calls(), 1)
}

func TestStartBatch_ConcurrentCallsOneWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf")

	release := make(chan struct{})
	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		<-release
		return goodCandidate("INV-1"), nil
	}

	const callers = 5
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			results <- h.orch.StartBatch(ctx, batch.ID)
		}()
	}

	// the winner is parked in the extractor until release
	for i := 0; i < callers-1; i++ {
		err := <-results
		assert.ErrorIs(t, err, common.ErrAlreadyProcessing)
	}
	close(release)
	assert.NoError(t, <-results)

	assert.Len(t, h.extractor.Calls(), 1)
	assert.Equal(t, models.BatchStatusCompleted, h.batch(t, batch.ID).Status)
}

func TestResumeBatch_ReprocessesOnlyFailedFiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf")
	h.extractor.extractFunc = failOn(errProviderDown, "b.pdf", "d.pdf")

	require.NoError(t, h.orch.StartBatch(ctx, batch.ID))
	require.Equal(t, models.BatchStatusPartial, h.batch(t, batch.ID).Status)

	linked := map[string]string{}
	for _, f := range h.files(t, batch.ID) {
		if f.Status == models.FileStatusProcessed {
			linked[f.ID] = *f.InvoiceID
		}
	}
	require.Len(t, linked, 3)

	h.extractor.extractFunc = nil
	callsBefore := len(h.extractor.Calls())
	require.NoError(t, h.orch.ResumeBatch(ctx, batch.ID))

	assert.Equal(t, 2, len(h.extractor.Calls())-callsBefore, "only failed files are re-extracted")
	for _, f := range h.files(t, batch.ID) {
		assert.Equal(t, models.FileStatusProcessed, f.Status)
		assert.Nil(t, f.ErrorMessage)
		if inv, ok := linked[f.ID]; ok {
			assert.Equal(t, inv, *f.InvoiceID, "processed files keep their invoice")
		}
	}

	b := h.batch(t, batch.ID)
	assert.Equal(t, models.BatchStatusCompleted, b.Status)
	assert.Equal(t, 5, b.ProcessedCount)
	assert.Equal(t, 0, b.FailedCount)

	assert.Equal(t, 5, h.invoiceCount(t, batch.ID))
	h.assertInvariants(t, batch.ID)
}

func TestResumeBatch_InvalidStates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	pending, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf")
	err := h.orch.ResumeBatch(ctx, pending.ID)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	assert.Equal(t, models.BatchStatusPending, h.batch(t, pending.ID).Status)

	completed, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "b.pdf")
	require.NoError(t, h.orch.StartBatch(ctx, completed.ID))
	err = h.orch.ResumeBatch(ctx, completed.ID)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	err = h.orch.ResumeBatch(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.Empty(t, h.orch.RunningBatches())
}

func TestResumeBatch_AfterInterruptedRun(t *testing.T) {
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf", "c.pdf")

	ctx, cancel := context.WithCancel(context.Background())
	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		if strings.HasSuffix(text, "b.pdf") {
			cancel()
			return nil, ctx.Err()
		}
		return goodCandidate("INV-1"), nil
	}

	err := h.orch.StartBatch(ctx, batch.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrFatalOrchestrator)

	b := h.batch(t, batch.ID)
	assert.Equal(t, models.BatchStatusFailed, b.Status)
	require.NotNil(t, b.ErrorMessage)
	assert.Contains(t, *b.ErrorMessage, "interrupted")
	assert.Equal(t, 1, b.ProcessedCount)
	assert.Equal(t, 1, b.FailedCount)
	assert.False(t, h.orch.registry.IsRunning(batch.ID))
	h.assertInvariants(t, batch.ID)

	h.extractor.extractFunc = nil
	require.NoError(t, h.orch.ResumeBatch(context.Background(), batch.ID))

	b = h.batch(t, batch.ID)
	assert.Equal(t, models.BatchStatusCompleted, b.Status)
	assert.Nil(t, b.ErrorMessage, "resume clears the batch error")
	assert.Equal(t, 3, b.ProcessedCount)
	h.assertInvariants(t, batch.ID)
}

func TestResumeBatch_ReclaimsOrphanedProcessingFiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, files := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf")

	// a previous worker died while b.pdf was in flight
	require.NoError(t, h.db.Model(&models.Batch{}).Where("id = ?", batch.ID).
		Update("status", models.BatchStatusProcessing).Error)
	require.NoError(t, h.db.Model(&models.BatchFile{}).Where("id = ?", files[1].ID).
		Update("status", models.FileStatusProcessing).Error)

	n, err := h.orch.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b := h.batch(t, batch.ID)
	assert.Equal(t, models.BatchStatusFailed, b.Status)
	require.NotNil(t, b.ErrorMessage)
	assert.Equal(t, OrphanedRunMessage, *b.ErrorMessage)

	require.NoError(t, h.orch.ResumeBatch(ctx, batch.ID))
	for _, f := range h.files(t, batch.ID) {
		assert.Equal(t, models.FileStatusProcessed, f.Status, f.Filename)
	}
	assert.Equal(t, models.BatchStatusCompleted, h.batch(t, batch.ID).Status)
}

func TestRecoverOrphans_SkipsRunningBatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf")
	require.NoError(t, h.db.Model(&models.Batch{}).Where("id = ?", batch.ID).
		Update("status", models.BatchStatusProcessing).Error)

	require.True(t, h.orch.registry.TryAcquire(batch.ID))
	n, err := h.orch.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, models.BatchStatusProcessing, h.batch(t, batch.ID).Status)
	assert.True(t, h.orch.registry.IsRunning(batch.ID))
}

func TestRecoverOrphans_StaleRunCannotOverwriteNewerRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		if strings.HasSuffix(text, "/a.pdf") {
			once.Do(func() { close(entered) })
			<-release
		}
		return goodCandidate("INV-" + text[len(text)-5:]), nil
	}

	stale := make(chan error, 1)
	go func() {
		stale <- h.orch.StartBatch(ctx, batch.ID)
	}()
	<-entered

	// a second process sharing the database takes the batch over
	other := NewOrchestrator(h.store, h.store, NewFileProcessor(h.store, h.text, &mockExtractor{}, logger.Discard()), logger.Discard())
	n, err := other.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, other.ResumeBatch(ctx, batch.ID))
	require.Equal(t, models.BatchStatusCompleted, h.batch(t, batch.ID).Status)

	close(release)
	err = <-stale
	assert.ErrorIs(t, err, common.ErrFatalOrchestrator)

	b := h.batch(t, batch.ID)
	assert.Equal(t, models.BatchStatusCompleted, b.Status, "the stale run must not fail the batch")
	assert.Nil(t, b.ErrorMessage)
	assert.Equal(t, 2, b.ProcessedCount)
	assert.Equal(t, 0, b.FailedCount)
	for _, f := range h.files(t, batch.ID) {
		assert.Equal(t, models.FileStatusProcessed, f.Status, f.Filename)
	}
	assert.Equal(t, 2, h.invoiceCount(t, batch.ID), "the stale run's invoice was rolled back")
	assert.Empty(t, h.orch.RunningBatches())
	h.assertInvariants(t, batch.ID)

	// the batch is finished, so a late recovery pass finds nothing to do
	n, err = h.orch.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStartBatch_NonDocumentErrorAbortsRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf", "c.pdf")
	h.text.extractTextFunc = func(ctx context.Context, path string, fileType models.FileType) (string, error) {
		if strings.HasSuffix(path, "b.pdf") {
			return "", common.Errorf(common.CodeFatalOrchestrator, "document store offline")
		}
		return "INVOICE " + path, nil
	}

	err := h.orch.StartBatch(ctx, batch.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrFatalOrchestrator)

	b := h.batch(t, batch.ID)
	assert.Equal(t, models.BatchStatusFailed, b.Status)
	require.NotNil(t, b.ErrorMessage)
	assert.Contains(t, *b.ErrorMessage, "document store offline")

	status := map[string]models.FileStatus{}
	for _, f := range h.files(t, batch.ID) {
		status[f.Filename] = f.Status
		if f.Filename == "b.pdf" {
			require.NotNil(t, f.ErrorMessage)
			assert.True(t, strings.HasPrefix(*f.ErrorMessage, "batch aborted"), *f.ErrorMessage)
		}
	}
	assert.Equal(t, map[string]models.FileStatus{
		"a.pdf": models.FileStatusProcessed,
		"b.pdf": models.FileStatusFailed,
		"c.pdf": models.FileStatusPending,
	}, status)
	assert.Len(t, h.extractor.Calls(), 1)
	h.assertInvariants(t, batch.ID)
}

func TestStartBatch_PanicAbortsRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf", "c.pdf")
	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		if strings.HasSuffix(text, "b.pdf") {
			panic("nil map write")
		}
		return goodCandidate("INV-1"), nil
	}

	err := h.orch.StartBatch(ctx, batch.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrFatalOrchestrator)
	assert.Contains(t, err.Error(), "nil map write")

	b := h.batch(t, batch.ID)
	assert.Equal(t, models.BatchStatusFailed, b.Status)
	require.NotNil(t, b.ErrorMessage)
	assert.Contains(t, *b.ErrorMessage, "panicked")
	assert.Equal(t, 1, b.ProcessedCount)
	assert.Equal(t, 1, b.FailedCount)
	assert.False(t, h.orch.registry.IsRunning(batch.ID))
	h.assertInvariants(t, batch.ID)

	h.extractor.extractFunc = nil
	require.NoError(t, h.orch.ResumeBatch(ctx, batch.ID))
	assert.Equal(t, models.BatchStatusCompleted, h.batch(t, batch.ID).Status)
}

func TestStartBatch_BatchVanishesMidRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf", "c.pdf")

	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		require.NoError(t, h.db.Delete(&models.Batch{}, "id = ?", batch.ID).Error)
		return goodCandidate("INV-1"), nil
	}

	err := h.orch.StartBatch(ctx, batch.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrFatalOrchestrator)
	assert.Len(t, h.extractor.Calls(), 1, "the loop stops after the fatal error")
	assert.False(t, h.orch.registry.IsRunning(batch.ID))

	pending, err := h.store.Files.ListByStatus(ctx, batch.ID, models.FileStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestCreateBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	batch, err := h.orch.CreateBatch(ctx, h.vendor.ID, []NewFile{
		{FilePath: "/uploads/jan.pdf"},
		{Filename: "feb statement", FilePath: "minio://invoices/feb", FileType: "html"},
		{FilePath: "/uploads/mar.HTM"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusPending, batch.Status)
	assert.Equal(t, 3, batch.TotalFileCount)

	files := h.files(t, batch.ID)
	require.Len(t, files, 3)
	assert.Equal(t, "jan.pdf", files[0].Filename)
	assert.Equal(t, models.FileTypePDF, files[0].FileType)
	assert.Equal(t, "feb statement", files[1].Filename)
	assert.Equal(t, models.FileTypeHTML, files[1].FileType)
	assert.Equal(t, models.FileTypeHTML, files[2].FileType)
	for _, f := range files {
		assert.Equal(t, models.FileStatusPending, f.Status)
	}
}

func TestCreateBatch_Rejects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.orch.CreateBatch(ctx, h.vendor.ID, nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = h.orch.CreateBatch(ctx, "missing", []NewFile{{FilePath: "/a.pdf"}})
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = h.orch.CreateBatch(ctx, h.vendor.ID, []NewFile{{FilePath: "/a.pdf"}, {FilePath: "/b.docx"}})
	assert.ErrorIs(t, err, common.ErrUnsupportedFileType)

	batches, err := h.store.Batches.ListByStatus(ctx, models.BatchStatusPending, 0)
	require.NoError(t, err)
	assert.Empty(t, batches, "rejected batches are not persisted")
}

func TestCreateBatch_RejectsUnreadablePaths(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.orch.WithPathValidator(storage.NewRouter(storage.LocalStore{Root: "/uploads"}, nil))

	for _, path := range []string{"../etc/passwd.pdf", "/etc/passwd.pdf", "2024/../../x.pdf", "minio://invoices/a.pdf"} {
		_, err := h.orch.CreateBatch(ctx, h.vendor.ID, []NewFile{{FilePath: "/uploads/ok.pdf"}, {FilePath: path}})
		assert.ErrorIs(t, err, common.ErrInvalidInput, path)
	}

	batch, err := h.orch.CreateBatch(ctx, h.vendor.ID, []NewFile{{FilePath: "/uploads/ok.pdf"}, {FilePath: "2024/march.pdf"}})
	require.NoError(t, err)

	batches, err := h.store.Batches.ListByStatus(ctx, models.BatchStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, batches, 1, "rejected batches are not persisted")
	assert.Equal(t, batch.ID, batches[0].ID)
}

func TestInvoiceQueries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "good.pdf", "weak.pdf")
	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		c := goodCandidate("INV-" + text[len(text)-8:])
		if strings.HasSuffix(text, "weak.pdf") {
			c.Header.CustomerName = ""
		}
		return c, nil
	}
	require.NoError(t, h.orch.StartBatch(ctx, batch.ID))

	invoices, err := h.orch.ListInvoices(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "weak.pdf", invoices[0].OriginalFilename, "lowest confidence first")
	assert.Equal(t, 0.7, invoices[0].ConfidenceScore)

	inv, err := h.orch.GetInvoice(ctx, invoices[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "good.pdf", inv.OriginalFilename)
	assert.Len(t, inv.LineItems, 2)

	_, err = h.orch.GetInvoice(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = h.orch.ListInvoices(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetProgress_NotFound(t *testing.T) {
	_, err := newHarness(t).orch.GetProgress(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = newHarness(t).orch.ListFiles(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStartBatchAsync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	d, err := NewDispatcher(2, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop(time.Second) })
	h.orch.WithDispatcher(d)

	batch, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "a.pdf", "b.pdf")

	require.NoError(t, h.orch.StartBatchAsync(ctx, batch.ID))
	h.orch.Wait()

	assert.Equal(t, models.BatchStatusCompleted, h.batch(t, batch.ID).Status)
	assert.False(t, h.orch.registry.IsRunning(batch.ID))
}

func TestStartBatchAsync_PoolFullRestoresStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	d, err := NewDispatcher(1, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop(time.Second) })
	h.orch.WithDispatcher(d)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		if strings.HasSuffix(text, "slow.pdf") {
			close(entered)
			<-release
		}
		return goodCandidate("INV-1"), nil
	}

	first, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "slow.pdf")
	second, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "other.pdf")

	require.NoError(t, h.orch.StartBatchAsync(ctx, first.ID))
	<-entered

	err = h.orch.StartBatchAsync(ctx, second.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDispatcherFull)

	b := h.batch(t, second.ID)
	assert.Equal(t, models.BatchStatusPending, b.Status)
	assert.Nil(t, b.StartedAt)
	assert.False(t, h.orch.registry.IsRunning(second.ID))

	close(release)
	h.orch.Wait()
	assert.Equal(t, models.BatchStatusCompleted, h.batch(t, first.ID).Status)

	require.NoError(t, h.orch.StartBatch(ctx, second.ID))
	assert.Equal(t, models.BatchStatusCompleted, h.batch(t, second.ID).Status)
}

func TestResumeBatchAsync_PoolFullKeepsFileErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	d, err := NewDispatcher(1, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop(time.Second) })
	h.orch.WithDispatcher(d)

	partial, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "x.pdf", "y.pdf")
	h.extractor.extractFunc = failOn(common.NewAppError(common.CodeExtraction, "timeout", errProviderDown), "y.pdf")
	require.NoError(t, h.orch.StartBatch(ctx, partial.ID))
	before := h.batch(t, partial.ID)
	require.Equal(t, models.BatchStatusPartial, before.Status)
	failedBefore := h.files(t, partial.ID)[1]
	require.NotNil(t, failedBefore.ErrorMessage)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.extractor.extractFunc = func(ctx context.Context, text, prompt string) (*extraction.Candidate, error) {
		if strings.HasSuffix(text, "slow.pdf") {
			close(entered)
			<-release
		}
		return goodCandidate("INV-1"), nil
	}
	busy, _ := repotest.SeedBatch(t, h.db, h.vendor.ID, "slow.pdf")
	require.NoError(t, h.orch.StartBatchAsync(ctx, busy.ID))
	<-entered

	err = h.orch.ResumeBatchAsync(ctx, partial.ID)
	assert.ErrorIs(t, err, ErrDispatcherFull)

	b := h.batch(t, partial.ID)
	assert.Equal(t, models.BatchStatusPartial, b.Status)
	assert.Equal(t, before.CompletedAt.Unix(), b.CompletedAt.Unix())
	assert.Equal(t, before.RunID, b.RunID)
	assert.Equal(t, 1, b.ProcessedCount)
	assert.Equal(t, 1, b.FailedCount)

	failed := h.files(t, partial.ID)[1]
	assert.Equal(t, models.FileStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, *failedBefore.ErrorMessage, *failed.ErrorMessage)
	assert.Equal(t, failedBefore.ProcessingDurationMs, failed.ProcessingDurationMs)
	assert.NotNil(t, failed.ProcessedAt)
	assert.False(t, h.orch.registry.IsRunning(partial.ID))
	h.assertInvariants(t, partial.ID)

	close(release)
	h.orch.Wait()

	h.extractor.extractFunc = nil
	require.NoError(t, h.orch.ResumeBatch(ctx, partial.ID))
	assert.Equal(t, models.BatchStatusCompleted, h.batch(t, partial.ID).Status)
}
