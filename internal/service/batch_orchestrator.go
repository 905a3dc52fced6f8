package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vipul43/invoice-worker/internal/common"
	"github.com/vipul43/invoice-worker/internal/models"
	"github.com/vipul43/invoice-worker/internal/repository"
)

// OrphanedRunMessage is recorded on batches found in processing at startup.
const OrphanedRunMessage = "worker restarted during processing"

const abortTimeout = 30 * time.Second

// NewFile describes a document to attach to a new batch.
type NewFile struct {
	Filename string
	FilePath string
	FileType string // PDF or HTML; inferred from Filename when empty
}

// Progress is the externally visible state of a batch.
type Progress struct {
	BatchID              string             `json:"batch_id"`
	Status               models.BatchStatus `json:"status"`
	TotalFiles           int                `json:"total_files"`
	ProcessedFiles       int                `json:"processed_files"`
	FailedFiles          int                `json:"failed_files"`
	PendingFiles         int                `json:"pending_files"`
	ProcessingFiles      int                `json:"processing_files"`
	CompletionPercentage int                `json:"completion_percentage"`
	StartedAt            *time.Time         `json:"started_at"`
	CompletedAt          *time.Time         `json:"completed_at"`
	ErrorMessage         *string            `json:"error_message"`
	Running              bool               `json:"running"`
	Done                 bool               `json:"done"`
}

// PathValidator checks that a document path can be read before a batch
// references it.
type PathValidator interface {
	ValidatePath(path string) error
}

type runMode int

const (
	modeStart runMode = iota
	modeResume
)

func (m runMode) String() string {
	if m == modeResume {
		return "resume"
	}
	return "start"
}

// batchRun is one acquired run of a batch, from begin until drive returns.
type batchRun struct {
	mode    runMode
	batchID string
	// owns the batch row while it is processing; every commit is conditioned on it
	runID string
	bc    BatchContext
	// previous row and file state, restored if the run cannot be scheduled
	prev  models.Batch
	reset []models.BatchFile
	// file currently between processing and its terminal commit
	current string
}

// Orchestrator owns the batch and file state machines.
type Orchestrator struct {
	store      *repository.Store
	progress   *repository.Store
	processor  *FileProcessor
	registry   *Registry
	dispatcher *Dispatcher
	paths      PathValidator
	log        *logrus.Logger
	now        func() time.Time
}

// NewOrchestrator builds an orchestrator. progress should be backed by an
// independent connection pool; it serves counter refreshes and progress
// reads so they are never queued behind the main pool.
func NewOrchestrator(store, progress *repository.Store, processor *FileProcessor, log *logrus.Logger) *Orchestrator {
	if progress == nil {
		progress = store
	}
	return &Orchestrator{
		store:     store,
		progress:  progress,
		processor: processor,
		registry:  NewRegistry(),
		log:       log,
		now:       time.Now,
	}
}

// WithDispatcher enables the Async variants.
func (o *Orchestrator) WithDispatcher(d *Dispatcher) *Orchestrator {
	o.dispatcher = d
	return o
}

// WithPathValidator makes CreateBatch reject paths the document source
// cannot serve.
func (o *Orchestrator) WithPathValidator(v PathValidator) *Orchestrator {
	o.paths = v
	return o
}

// RunningBatches lists the batches with a run in this process.
func (o *Orchestrator) RunningBatches() []string {
	return o.registry.Running()
}

// CreateBatch creates a pending batch with its pending files.
func (o *Orchestrator) CreateBatch(ctx context.Context, vendorID string, files []NewFile) (*models.Batch, error) {
	if len(files) == 0 {
		return nil, common.Errorf(common.CodeInvalidInput, "a batch needs at least one file")
	}
	if _, err := o.store.Vendors.GetByID(ctx, vendorID); err != nil {
		if errors.Is(err, repository.ErrVendorNotFound) {
			return nil, common.Errorf(common.CodeNotFound, "vendor %s not found", vendorID)
		}
		return nil, fmt.Errorf("failed to load vendor: %w", err)
	}

	now := o.now()
	batch := &models.Batch{
		ID:             uuid.New().String(),
		VendorID:       vendorID,
		TotalFileCount: len(files),
		Status:         models.BatchStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	rows := make([]models.BatchFile, 0, len(files))
	for i, f := range files {
		if strings.TrimSpace(f.FilePath) == "" {
			return nil, common.Errorf(common.CodeInvalidInput, "file %d has no path", i+1)
		}
		if o.paths != nil {
			if err := o.paths.ValidatePath(f.FilePath); err != nil {
				return nil, common.NewAppError(common.CodeInvalidInput, fmt.Sprintf("file %d path %q", i+1, f.FilePath), err)
			}
		}
		name := f.Filename
		if name == "" {
			name = filepath.Base(f.FilePath)
		}
		declared := f.FileType
		if declared == "" {
			declared = filepath.Ext(name)
		}
		ft, ok := models.ParseFileType(declared)
		if !ok {
			return nil, common.Errorf(common.CodeUnsupportedFileType, "%s: %q", name, declared)
		}
		rows = append(rows, models.BatchFile{
			ID:        uuid.New().String(),
			BatchID:   batch.ID,
			Filename:  name,
			FilePath:  f.FilePath,
			FileType:  ft,
			Status:    models.FileStatusPending,
			Seq:       int64(i + 1),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	err := o.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Batches.Create(ctx, batch); err != nil {
			return err
		}
		return tx.Files.BulkCreate(ctx, rows)
	})
	if err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"batch_id":  batch.ID,
		"vendor_id": vendorID,
		"files":     len(rows),
	}).Info("batch created")
	return batch, nil
}

// StartBatch runs a pending batch to completion on the calling goroutine.
func (o *Orchestrator) StartBatch(ctx context.Context, batchID string) error {
	run, err := o.begin(ctx, batchID, modeStart)
	if err != nil {
		return err
	}
	return o.drive(ctx, run)
}

// ResumeBatch re-drives the failed files of a failed or partial batch on the
// calling goroutine.
func (o *Orchestrator) ResumeBatch(ctx context.Context, batchID string) error {
	run, err := o.begin(ctx, batchID, modeResume)
	if err != nil {
		return err
	}
	return o.drive(ctx, run)
}

// StartBatchAsync performs StartBatch's checks and state change synchronously
// and hands the loop to the dispatcher.
func (o *Orchestrator) StartBatchAsync(ctx context.Context, batchID string) error {
	return o.beginAsync(ctx, batchID, modeStart)
}

// ResumeBatchAsync is the dispatcher-backed form of ResumeBatch.
func (o *Orchestrator) ResumeBatchAsync(ctx context.Context, batchID string) error {
	return o.beginAsync(ctx, batchID, modeResume)
}

func (o *Orchestrator) beginAsync(ctx context.Context, batchID string, mode runMode) error {
	if o.dispatcher == nil {
		return errors.New("async runs need a dispatcher")
	}
	run, err := o.begin(ctx, batchID, mode)
	if err != nil {
		return err
	}

	if err := o.dispatcher.Submit(&batchJob{o: o, run: run}); err != nil {
		o.log.WithError(err).WithField("batch_id", batchID).Warn("could not schedule batch run, restoring status")
		o.unwind(context.WithoutCancel(ctx), run)
		o.registry.Release(batchID)
		return fmt.Errorf("failed to schedule batch %s: %w", batchID, err)
	}
	return nil
}

// unwind puts the batch and the files a resume reset back the way begin
// found them.
func (o *Orchestrator) unwind(ctx context.Context, run *batchRun) {
	entry := o.log.WithField("batch_id", run.batchID)
	err := o.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Batches.RestoreStatus(ctx, run.runID, run.prev); err != nil {
			return err
		}
		return tx.Files.RestoreReset(ctx, run.reset)
	})
	if err != nil {
		entry.WithError(err).Error("failed to restore batch status")
	}
	if _, err := o.progress.Batches.RefreshCounts(ctx, run.batchID); err != nil {
		entry.WithError(err).Error("failed to refresh batch counters")
	}
}

type batchJob struct {
	o   *Orchestrator
	run *batchRun
}

func (j *batchJob) ID() string {
	return j.run.mode.String() + ":" + j.run.batchID
}

func (j *batchJob) Execute(ctx context.Context) error {
	return j.o.drive(ctx, j.run)
}

// begin validates preconditions, claims the batch in the registry and moves
// it to processing. On error nothing has been changed and the registry entry
// is released.
func (o *Orchestrator) begin(ctx context.Context, batchID string, mode runMode) (run *batchRun, err error) {
	if !o.registry.TryAcquire(batchID) {
		return nil, common.Errorf(common.CodeAlreadyProcessing, "batch %s is already being processed", batchID)
	}
	defer func() {
		if err != nil {
			o.registry.Release(batchID)
		}
	}()

	batch, err := o.store.Batches.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			return nil, common.Errorf(common.CodeNotFound, "batch %s not found", batchID)
		}
		return nil, err
	}

	if !CanTransitionBatch(batch.Status, models.BatchStatusProcessing) {
		return nil, common.Errorf(common.CodeInvalidState, "batch %s is %s and cannot be processed", batchID, batch.Status)
	}
	switch mode {
	case modeStart:
		if batch.Status != models.BatchStatusPending {
			return nil, common.Errorf(common.CodeInvalidState, "batch %s is %s, only pending batches can be started", batchID, batch.Status)
		}
	case modeResume:
		if !batch.Status.IsResumable() {
			return nil, common.Errorf(common.CodeInvalidState, "batch %s is %s, only failed or partial batches can be resumed", batchID, batch.Status)
		}
	}

	vendor, err := o.store.Vendors.GetByID(ctx, batch.VendorID)
	if err != nil {
		if errors.Is(err, repository.ErrVendorNotFound) {
			return nil, common.Errorf(common.CodeNotFound, "vendor %s of batch %s not found", batch.VendorID, batchID)
		}
		return nil, err
	}
	prompt, err := o.store.Vendors.GetActivePrompt(ctx, batch.VendorID)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	startedAt := o.now()
	var reset []models.BatchFile
	err = o.store.Transaction(ctx, func(tx *repository.Store) error {
		if mode == modeResume {
			files, err := tx.Files.ResetForResume(ctx, batchID, ResumableFileStatuses())
			if err != nil {
				return err
			}
			reset = files
			o.log.WithFields(logrus.Fields{"batch_id": batchID, "files": len(reset)}).Info("files reset to pending")
		}
		ok, err := tx.Batches.MarkProcessing(ctx, batchID, []models.BatchStatus{batch.Status}, runID, startedAt)
		if err != nil {
			return err
		}
		if !ok {
			return common.Errorf(common.CodeInvalidState, "batch %s changed status concurrently", batchID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if mode == modeResume {
		if _, err := o.progress.Batches.RefreshCounts(ctx, batchID); err != nil {
			o.log.WithError(err).WithField("batch_id", batchID).Warn("failed to refresh counters after reset")
		}
	}

	o.log.WithFields(logrus.Fields{
		"batch_id": batchID,
		"run_id":   runID,
		"mode":     mode.String(),
		"from":     batch.Status,
		"prompt":   prompt != nil,
	}).Info("batch processing")

	return &batchRun{
		mode:    mode,
		batchID: batchID,
		runID:   runID,
		bc:      BatchContext{Batch: batch, Vendor: vendor, ActivePrompt: prompt},
		prev:    *batch,
		reset:   reset,
	}, nil
}

// drive processes the run's pending files in upload order, then commits the
// terminal status. It always releases the registry entry, and a panic in the
// loop aborts the run instead of leaving the batch processing.
func (o *Orchestrator) drive(ctx context.Context, run *batchRun) (err error) {
	defer o.registry.Release(run.batchID)
	defer func() {
		if p := recover(); p != nil {
			err = o.abort(run, fmt.Errorf("batch run panicked: %v", p))
		}
	}()

	// state commits must land even if ctx is cancelled mid-file
	dbCtx := context.WithoutCancel(ctx)
	entry := o.log.WithField("batch_id", run.batchID)

	files, err := o.store.Files.ListByStatus(dbCtx, run.batchID, models.FileStatusPending)
	if err != nil {
		return o.abort(run, fmt.Errorf("list pending files: %w", err))
	}
	entry.WithField("files", len(files)).Info("driving pending files")

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return o.abort(run, fmt.Errorf("run interrupted: %w", err))
		}
		if err := o.step(ctx, run, file); err != nil {
			return o.abort(run, err)
		}
	}

	counts, err := o.progress.Batches.RefreshCounts(dbCtx, run.batchID)
	if err != nil {
		return o.abort(run, fmt.Errorf("refresh counters: %w", err))
	}
	status := TerminalBatchStatus(counts)
	if !CanTransitionBatch(models.BatchStatusProcessing, status) {
		return o.abort(run, fmt.Errorf("no transition from processing to %s", status))
	}
	if err := o.store.Batches.Finish(dbCtx, run.batchID, run.runID, status, o.now(), nil); err != nil {
		return o.abort(run, fmt.Errorf("finish batch: %w", err))
	}

	entry.WithFields(logrus.Fields{
		"run_id":    run.runID,
		"status":    status,
		"processed": counts.Processed,
		"failed":    counts.Failed,
	}).Info("batch finished")
	return nil
}

// step applies the file state machine to one pending file:
// pending -> processing -> processed | failed, committing each transition.
// Document errors are recorded on the file; any other error stops the run and
// is returned.
func (o *Orchestrator) step(ctx context.Context, run *batchRun, file models.BatchFile) error {
	dbCtx := context.WithoutCancel(ctx)
	entry := o.log.WithFields(logrus.Fields{
		"batch_id": run.batchID,
		"file_id":  file.ID,
		"filename": file.Filename,
	})

	if !CanTransitionFile(file.Status, models.FileStatusProcessing) {
		return fmt.Errorf("file %s is %s and cannot be claimed", file.ID, file.Status)
	}
	if err := o.store.Files.MarkProcessing(dbCtx, file.ID, run.runID); err != nil {
		return fmt.Errorf("claim file %s: %w", file.ID, err)
	}
	run.current = file.ID
	entry.Debug("file processing")

	start := o.now()
	result, err := o.processor.ProcessFile(ctx, file, run.bc, func(tx *repository.Store, invoiceID string) error {
		return tx.Files.MarkProcessed(dbCtx, file.ID, run.runID, invoiceID, o.now().Sub(start).Milliseconds())
	})
	if err != nil && !common.IsDocumentError(err) {
		return fmt.Errorf("process file %s: %w", file.ID, err)
	}
	if err != nil {
		msg := common.FileErrorMessage(err)
		if mErr := o.store.Files.MarkFailed(dbCtx, file.ID, run.runID, msg, o.now().Sub(start).Milliseconds()); mErr != nil {
			return fmt.Errorf("record failure of file %s: %w", file.ID, mErr)
		}
		entry.WithError(err).WithField("code", common.CodeOf(err)).Warn("file failed")
	} else {
		entry.WithFields(logrus.Fields{
			"invoice_id": result.InvoiceID,
			"confidence": result.ConfidenceScore,
			"line_items": result.LineItemCount,
		}).Info("file processed")
	}
	run.current = ""

	counts, err := o.progress.Batches.RefreshCounts(dbCtx, run.batchID)
	if err != nil {
		return fmt.Errorf("refresh counters: %w", err)
	}
	entry.WithFields(logrus.Fields{
		"processed": counts.Processed,
		"failed":    counts.Failed,
		"pending":   counts.Pending,
	}).Debug("progress committed")
	return nil
}

// abort marks the batch failed after an error that stops the run. The file in
// flight, if any, is failed with it so it is picked up by resume. Nothing is
// written once another run owns the batch.
func (o *Orchestrator) abort(run *batchRun, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	msg := cause.Error()
	entry := o.log.WithFields(logrus.Fields{"batch_id": run.batchID, "run_id": run.runID})
	entry.WithError(cause).Error("batch run aborted")

	err := o.store.Transaction(ctx, func(tx *repository.Store) error {
		if run.current != "" {
			err := tx.Files.MarkFailed(ctx, run.current, run.runID, "batch aborted: "+msg, 0)
			if err != nil && !errors.Is(err, repository.ErrFileStateConflict) {
				return err
			}
		}
		return tx.Batches.Finish(ctx, run.batchID, run.runID, models.BatchStatusFailed, o.now(), &msg)
	})
	run.current = ""
	switch {
	case errors.Is(err, repository.ErrRunSuperseded):
		entry.Warn("batch taken over by another run, leaving it alone")
	case err != nil:
		entry.WithError(err).Error("failed to mark batch failed")
	default:
		if _, err := o.progress.Batches.RefreshCounts(ctx, run.batchID); err != nil {
			entry.WithError(err).Warn("failed to refresh counters after abort")
		}
	}

	return common.NewAppError(common.CodeFatalOrchestrator, "batch "+run.batchID+" aborted", cause)
}

// GetProgress reads a batch's status and live file counts.
func (o *Orchestrator) GetProgress(ctx context.Context, batchID string) (*Progress, error) {
	batch, err := o.progress.Batches.GetByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			return nil, common.Errorf(common.CodeNotFound, "batch %s not found", batchID)
		}
		return nil, err
	}
	counts, err := o.progress.Files.CountByStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}

	return &Progress{
		BatchID:              batch.ID,
		Status:               batch.Status,
		TotalFiles:           batch.TotalFileCount,
		ProcessedFiles:       counts.Processed,
		FailedFiles:          counts.Failed,
		PendingFiles:         counts.Pending,
		ProcessingFiles:      counts.Processing,
		CompletionPercentage: CompletionPercentage(counts.Processed, counts.Failed, batch.TotalFileCount),
		StartedAt:            batch.StartedAt,
		CompletedAt:          batch.CompletedAt,
		ErrorMessage:         batch.ErrorMessage,
		Running:              o.registry.IsRunning(batchID),
		Done:                 batch.Status.IsTerminal(),
	}, nil
}

// ListFiles returns a batch's files in upload order.
func (o *Orchestrator) ListFiles(ctx context.Context, batchID string) ([]models.BatchFile, error) {
	if _, err := o.progress.Batches.GetByID(ctx, batchID); err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			return nil, common.Errorf(common.CodeNotFound, "batch %s not found", batchID)
		}
		return nil, err
	}
	return o.progress.Files.ListByBatch(ctx, batchID)
}

// ListInvoices returns a batch's invoices, lowest confidence first.
func (o *Orchestrator) ListInvoices(ctx context.Context, batchID string) ([]models.Invoice, error) {
	if _, err := o.progress.Batches.GetByID(ctx, batchID); err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			return nil, common.Errorf(common.CodeNotFound, "batch %s not found", batchID)
		}
		return nil, err
	}
	return o.progress.Invoices.ListByBatch(ctx, batchID)
}

// GetInvoice returns one invoice with its line items.
func (o *Orchestrator) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	invoice, err := o.progress.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			return nil, common.Errorf(common.CodeNotFound, "invoice %s not found", invoiceID)
		}
		return nil, err
	}
	return invoice, nil
}

// RecoverOrphans fails every processing batch with no run in this process so
// it can be resumed. It returns the number of batches recovered.
func (o *Orchestrator) RecoverOrphans(ctx context.Context) (int, error) {
	batches, err := o.store.Batches.ListByStatus(ctx, models.BatchStatusProcessing, 0)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, b := range batches {
		if !o.registry.TryAcquire(b.ID) {
			continue
		}
		ok, err := o.recoverOne(ctx, b)
		o.registry.Release(b.ID)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
		}
	}
	return recovered, nil
}

// recoverOne fails batch if it is still processing under the run it was
// listed with. It reports false when that run already finished or was replaced.
func (o *Orchestrator) recoverOne(ctx context.Context, batch models.Batch) (bool, error) {
	if _, err := o.progress.Batches.RefreshCounts(ctx, batch.ID); err != nil {
		return false, fmt.Errorf("refresh counters of orphaned batch %s: %w", batch.ID, err)
	}
	var runID string
	if batch.RunID != nil {
		runID = *batch.RunID
	}
	msg := OrphanedRunMessage
	err := o.store.Batches.Finish(ctx, batch.ID, runID, models.BatchStatusFailed, o.now(), &msg)
	if errors.Is(err, repository.ErrRunSuperseded) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fail orphaned batch %s: %w", batch.ID, err)
	}
	o.log.WithFields(logrus.Fields{"batch_id": batch.ID, "run_id": runID}).Warn("orphaned batch marked failed")
	return true, nil
}

// Wait blocks until every async run has returned.
func (o *Orchestrator) Wait() {
	if o.dispatcher != nil {
		o.dispatcher.Wait()
	}
}
