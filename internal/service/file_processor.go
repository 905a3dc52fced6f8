package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vipul43/invoice-worker/internal/common"
	"github.com/vipul43/invoice-worker/internal/extraction"
	"github.com/vipul43/invoice-worker/internal/models"
	"github.com/vipul43/invoice-worker/internal/repository"
	"github.com/vipul43/invoice-worker/internal/validation"
)

// TextExtractor turns a stored document into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string, fileType models.FileType) (string, error)
}

// BatchContext is the read-only context shared by every file of a run.
type BatchContext struct {
	Batch        *models.Batch
	Vendor       *models.Vendor
	ActivePrompt *models.ExtractionPrompt // nil when the vendor has none
}

type FileResult struct {
	InvoiceID       string
	ConfidenceScore float64
	LineItemCount   int
}

// FinalizeFunc runs inside the transaction that inserts the invoice. The
// orchestrator uses it to commit the file's processed transition atomically
// with the invoice rows.
type FinalizeFunc func(tx *repository.Store, invoiceID string) error

type FileProcessor struct {
	store     *repository.Store
	text      TextExtractor
	extractor extraction.Extractor
	log       *logrus.Logger
	now       func() time.Time
}

func NewFileProcessor(store *repository.Store, text TextExtractor, extractor extraction.Extractor, log *logrus.Logger) *FileProcessor {
	return &FileProcessor{
		store:     store,
		text:      text,
		extractor: extractor,
		log:       log,
		now:       time.Now,
	}
}

// ProcessFile drives one file through text extraction, AI extraction,
// validation, scoring and persistence. Every error it returns is confined to
// this file. Nothing is persisted unless the whole invoice and finalize commit.
func (p *FileProcessor) ProcessFile(ctx context.Context, file models.BatchFile, bc BatchContext, finalize FinalizeFunc) (*FileResult, error) {
	entry := p.log.WithFields(logrus.Fields{
		"batch_id": file.BatchID,
		"file_id":  file.ID,
		"filename": file.Filename,
	})

	text, err := p.text.ExtractText(ctx, file.FilePath, file.FileType)
	if err != nil {
		if common.CodeOf(err) == "" {
			return nil, common.NewAppError(common.CodeEmptyDocument, "text extraction", err)
		}
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, common.Errorf(common.CodeEmptyDocument, "extracted text is empty")
	}

	prompt, source := extraction.ResolvePrompt(bc.ActivePrompt)
	entry.WithFields(logrus.Fields{"prompt_source": source, "text_len": len(text)}).Debug("calling extractor")

	cand, err := p.extractor.Extract(ctx, text, prompt)
	if err != nil {
		if common.CodeOf(err) == "" {
			// unclassified adapter errors are transport failures
			return nil, common.NewAppError(common.CodeExtraction, "extractor call", err)
		}
		return nil, err
	}
	if cand == nil {
		return nil, common.Errorf(common.CodeMalformedExtraction, "extractor returned no candidate")
	}

	report := validation.Validate(cand)
	score := validation.Score(cand, report)

	invoice, items := p.buildInvoice(file, bc, cand, report, score)

	err = p.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Invoices.CreateWithLineItems(ctx, invoice, items); err != nil {
			return err
		}
		if finalize != nil {
			return finalize(tx, invoice.ID)
		}
		return nil
	})
	if err != nil {
		return nil, common.NewAppError(common.CodePersistence, "save invoice", err)
	}

	entry.WithFields(logrus.Fields{
		"invoice_id": invoice.ID,
		"confidence": score,
		"line_items": len(items),
		"errors":     len(report.Errors()),
		"warnings":   len(report.Warnings()),
	}).Info("invoice saved")

	return &FileResult{
		InvoiceID:       invoice.ID,
		ConfidenceScore: score,
		LineItemCount:   len(items),
	}, nil
}

func (p *FileProcessor) buildInvoice(file models.BatchFile, bc BatchContext, cand *extraction.Candidate, report validation.Result, score float64) (*models.Invoice, []models.LineItem) {
	h := cand.Header
	now := p.now()

	invoice := &models.Invoice{
		ID:                 uuid.New().String(),
		BatchID:            file.BatchID,
		InvoiceNumber:      optString(h.InvoiceNumber),
		AccountNumber:      optString(h.AccountNumber),
		PONumber:           optString(h.PONumber),
		CustomerName:       optString(h.CustomerName),
		CustomerAddress:    optString(h.CustomerAddress),
		ContactEmail:       optString(h.ContactEmail),
		ContactPhone:       optString(h.ContactPhone),
		InvoiceDate:        optDate(h.InvoiceDate),
		DueDate:            optDate(h.DueDate),
		BillingPeriodStart: optDate(h.BillingPeriodStart),
		BillingPeriodEnd:   optDate(h.BillingPeriodEnd),
		Currency:           optString(h.Currency),
		SubtotalAmount:     h.SubtotalAmount,
		TaxAmount:          h.TaxAmount,
		FeeAmount:          h.FeeAmount,
		DiscountAmount:     h.DiscountAmount,
		ShippingAmount:     h.ShippingAmount,
		PreviousBalance:    h.PreviousBalance,
		PaymentsApplied:    h.PaymentsApplied,
		AdjustmentsAmount:  h.AdjustmentsAmount,
		TotalAmount:        h.TotalAmount,
		ConfidenceScore:    score,
		ValidationIssues:   toJSONB(report),
		RawExtraction:      models.JSONB(cand.Raw),
		SourceFilePath:     file.FilePath,
		SourceFileType:     file.FileType,
		OriginalFilename:   file.Filename,
		Status:             models.InvoiceStatusProcessed,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if bc.Batch != nil {
		invoice.VendorID = bc.Batch.VendorID
	}

	items := make([]models.LineItem, 0, len(cand.LineItems))
	for i, li := range cand.LineItems {
		items = append(items, models.LineItem{
			ID:             uuid.New().String(),
			InvoiceID:      invoice.ID,
			LineNumber:     i + 1,
			Description:    optString(li.Description),
			Category:       optString(li.Category),
			ChargeType:     optString(li.ChargeType),
			Quantity:       li.Quantity,
			UnitPrice:      li.UnitPrice,
			SubtotalAmount: li.SubtotalAmount,
			TaxAmount:      li.TaxAmount,
			FeeAmount:      li.FeeAmount,
			TotalAmount:    li.TotalAmount,
			CreatedAt:      now,
		})
	}
	return invoice, items
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optDate(s string) *time.Time {
	t, ok := validation.ParseDate(s)
	if !ok {
		return nil
	}
	return &t
}

func toJSONB(v any) models.JSONB {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out models.JSONB
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
