package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vipul43/invoice-worker/internal/common"
	"github.com/vipul43/invoice-worker/internal/models"
	"github.com/vipul43/invoice-worker/internal/service"
)

// BatchService is the orchestrator surface exposed over HTTP.
type BatchService interface {
	CreateBatch(ctx context.Context, vendorID string, files []service.NewFile) (*models.Batch, error)
	StartBatchAsync(ctx context.Context, batchID string) error
	ResumeBatchAsync(ctx context.Context, batchID string) error
	GetProgress(ctx context.Context, batchID string) (*service.Progress, error)
	ListFiles(ctx context.Context, batchID string) ([]models.BatchFile, error)
	ListInvoices(ctx context.Context, batchID string) ([]models.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error)
	RunningBatches() []string
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	batches BatchService
	db      Pinger
	log     *logrus.Logger
}

func NewHandler(batches BatchService, db Pinger, log *logrus.Logger) *Handler {
	return &Handler{batches: batches, db: db, log: log}
}

type createBatchRequest struct {
	VendorID string            `json:"vendor_id" binding:"required"`
	Files    []createFileInput `json:"files" binding:"required,min=1,dive"`
}

type createFileInput struct {
	Filename string `json:"filename"`
	FilePath string `json:"file_path" binding:"required"`
	FileType string `json:"file_type"`
}

type batchResponse struct {
	ID             string             `json:"id"`
	VendorID       string             `json:"vendor_id"`
	Status         models.BatchStatus `json:"status"`
	TotalFileCount int                `json:"total_file_count"`
	CreatedAt      time.Time          `json:"created_at"`
}

type fileResponse struct {
	ID                   string            `json:"id"`
	Filename             string            `json:"filename"`
	FilePath             string            `json:"file_path"`
	FileType             models.FileType   `json:"file_type"`
	Status               models.FileStatus `json:"status"`
	InvoiceID            *string           `json:"invoice_id,omitempty"`
	ErrorMessage         *string           `json:"error_message,omitempty"`
	ProcessingDurationMs *int64            `json:"processing_duration_ms,omitempty"`
	ProcessedAt          *time.Time        `json:"processed_at,omitempty"`
}

// CreateBatch handles POST /batches.
func (h *Handler) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	files := make([]service.NewFile, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, service.NewFile{Filename: f.Filename, FilePath: f.FilePath, FileType: f.FileType})
	}

	batch, err := h.batches.CreateBatch(c.Request.Context(), req.VendorID, files)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, batchResponse{
		ID:             batch.ID,
		VendorID:       batch.VendorID,
		Status:         batch.Status,
		TotalFileCount: batch.TotalFileCount,
		CreatedAt:      batch.CreatedAt,
	})
}

// StartBatch handles POST /batches/:id/start. The run continues in the
// background after the response is sent.
func (h *Handler) StartBatch(c *gin.Context) {
	h.schedule(c, h.batches.StartBatchAsync)
}

// ResumeBatch handles POST /batches/:id/resume.
func (h *Handler) ResumeBatch(c *gin.Context) {
	h.schedule(c, h.batches.ResumeBatchAsync)
}

func (h *Handler) schedule(c *gin.Context, fn func(context.Context, string) error) {
	batchID := c.Param("id")
	if err := fn(c.Request.Context(), batchID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID, "status": models.BatchStatusProcessing})
}

// GetProgress handles GET /batches/:id/progress.
func (h *Handler) GetProgress(c *gin.Context) {
	progress, err := h.batches.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// ListFiles handles GET /batches/:id/files. An optional status query filters
// the list.
func (h *Handler) ListFiles(c *gin.Context) {
	files, err := h.batches.ListFiles(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := models.FileStatus(c.Query("status"))
	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		if status != "" && f.Status != status {
			continue
		}
		out = append(out, fileResponse{
			ID:                   f.ID,
			Filename:             f.Filename,
			FilePath:             f.FilePath,
			FileType:             f.FileType,
			Status:               f.Status,
			InvoiceID:            f.InvoiceID,
			ErrorMessage:         f.ErrorMessage,
			ProcessingDurationMs: f.ProcessingDurationMs,
			ProcessedAt:          f.ProcessedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"files": out, "total": len(out)})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "running_batches": h.batches.RunningBatches()})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": common.CodeOf(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrAlreadyProcessing), errors.Is(err, common.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrUnsupportedFileType):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDispatcherFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
