package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vipul43/invoice-worker/internal/models"
)

type invoiceSummary struct {
	ID               string     `json:"id"`
	InvoiceNumber    *string    `json:"invoice_number"`
	CustomerName     *string    `json:"customer_name"`
	InvoiceDate      *time.Time `json:"invoice_date"`
	Currency         *string    `json:"currency"`
	TotalAmount      *float64   `json:"total_amount"`
	ConfidenceScore  float64    `json:"confidence_score"`
	OriginalFilename string     `json:"original_filename"`
	Status           string     `json:"status"`
}

type invoiceResponse struct {
	invoiceSummary
	VendorID           string             `json:"vendor_id"`
	BatchID            string             `json:"batch_id"`
	AccountNumber      *string            `json:"account_number"`
	PONumber           *string            `json:"po_number"`
	CustomerAddress    *string            `json:"customer_address"`
	ContactEmail       *string            `json:"contact_email"`
	ContactPhone       *string            `json:"contact_phone"`
	DueDate            *time.Time         `json:"due_date"`
	BillingPeriodStart *time.Time         `json:"billing_period_start"`
	BillingPeriodEnd   *time.Time         `json:"billing_period_end"`
	SubtotalAmount     *float64           `json:"subtotal_amount"`
	TaxAmount          *float64           `json:"tax_amount"`
	FeeAmount          *float64           `json:"fee_amount"`
	DiscountAmount     *float64           `json:"discount_amount"`
	ShippingAmount     *float64           `json:"shipping_amount"`
	PreviousBalance    *float64           `json:"previous_balance"`
	PaymentsApplied    *float64           `json:"payments_applied"`
	AdjustmentsAmount  *float64           `json:"adjustments_amount"`
	ValidationIssues   models.JSONB       `json:"validation_issues"`
	SourceFilePath     string             `json:"source_file_path"`
	SourceFileType     models.FileType    `json:"source_file_type"`
	LineItems          []lineItemResponse `json:"line_items"`
	CreatedAt          time.Time          `json:"created_at"`
}

type lineItemResponse struct {
	LineNumber     int      `json:"line_number"`
	Description    *string  `json:"description"`
	Category       *string  `json:"category"`
	ChargeType     *string  `json:"charge_type"`
	Quantity       *float64 `json:"quantity"`
	UnitPrice      *float64 `json:"unit_price"`
	SubtotalAmount *float64 `json:"subtotal_amount"`
	TaxAmount      *float64 `json:"tax_amount"`
	FeeAmount      *float64 `json:"fee_amount"`
	TotalAmount    *float64 `json:"total_amount"`
}

func summarize(inv models.Invoice) invoiceSummary {
	return invoiceSummary{
		ID:               inv.ID,
		InvoiceNumber:    inv.InvoiceNumber,
		CustomerName:     inv.CustomerName,
		InvoiceDate:      inv.InvoiceDate,
		Currency:         inv.Currency,
		TotalAmount:      inv.TotalAmount,
		ConfidenceScore:  inv.ConfidenceScore,
		OriginalFilename: inv.OriginalFilename,
		Status:           inv.Status,
	}
}

// ListInvoices handles GET /batches/:id/invoices. Invoices come lowest
// confidence first.
func (h *Handler) ListInvoices(c *gin.Context) {
	invoices, err := h.batches.ListInvoices(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]invoiceSummary, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, summarize(inv))
	}
	c.JSON(http.StatusOK, gin.H{"invoices": out, "total": len(out)})
}

// GetInvoice handles GET /invoices/:id.
func (h *Handler) GetInvoice(c *gin.Context) {
	inv, err := h.batches.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	items := make([]lineItemResponse, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		items = append(items, lineItemResponse{
			LineNumber:     li.LineNumber,
			Description:    li.Description,
			Category:       li.Category,
			ChargeType:     li.ChargeType,
			Quantity:       li.Quantity,
			UnitPrice:      li.UnitPrice,
			SubtotalAmount: li.SubtotalAmount,
			TaxAmount:      li.TaxAmount,
			FeeAmount:      li.FeeAmount,
			TotalAmount:    li.TotalAmount,
		})
	}

	c.JSON(http.StatusOK, invoiceResponse{
		invoiceSummary:     summarize(*inv),
		VendorID:           inv.VendorID,
		BatchID:            inv.BatchID,
		AccountNumber:      inv.AccountNumber,
		PONumber:           inv.PONumber,
		CustomerAddress:    inv.CustomerAddress,
		ContactEmail:       inv.ContactEmail,
		ContactPhone:       inv.ContactPhone,
		DueDate:            inv.DueDate,
		BillingPeriodStart: inv.BillingPeriodStart,
		BillingPeriodEnd:   inv.BillingPeriodEnd,
		SubtotalAmount:     inv.SubtotalAmount,
		TaxAmount:          inv.TaxAmount,
		FeeAmount:          inv.FeeAmount,
		DiscountAmount:     inv.DiscountAmount,
		ShippingAmount:     inv.ShippingAmount,
		PreviousBalance:    inv.PreviousBalance,
		PaymentsApplied:    inv.PaymentsApplied,
		AdjustmentsAmount:  inv.AdjustmentsAmount,
		ValidationIssues:   inv.ValidationIssues,
		SourceFilePath:     inv.SourceFilePath,
		SourceFileType:     inv.SourceFileType,
		LineItems:          items,
		CreatedAt:          inv.CreatedAt,
	})
}
