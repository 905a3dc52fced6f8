package extraction

import "context"

// InvoiceHeader is the header block the AI extractor returns. Strings are
// empty when the field was not found; amounts are nil.
type InvoiceHeader struct {
	InvoiceNumber      string `json:"invoice_number"`
	AccountNumber      string `json:"account_number"`
	PONumber           string `json:"po_number"`
	VendorName         string `json:"vendor_name"`
	CustomerName       string `json:"customer_name"`
	CustomerAddress    string `json:"customer_address"`
	ContactEmail       string `json:"contact_email"`
	ContactPhone       string `json:"contact_phone"`
	InvoiceDate        string `json:"invoice_date"`         // YYYY-MM-DD
	DueDate            string `json:"due_date"`             // YYYY-MM-DD
	BillingPeriodStart string `json:"billing_period_start"` // YYYY-MM-DD
	BillingPeriodEnd   string `json:"billing_period_end"`   // YYYY-MM-DD
	Currency           string `json:"currency"`             // ISO 4217

	SubtotalAmount    *float64 `json:"subtotal_amount"`
	TaxAmount         *float64 `json:"tax_amount"`
	FeeAmount         *float64 `json:"fee_amount"`
	DiscountAmount    *float64 `json:"discount_amount"`
	ShippingAmount    *float64 `json:"shipping_amount"`
	PreviousBalance   *float64 `json:"previous_balance"`
	PaymentsApplied   *float64 `json:"payments_applied"`
	AdjustmentsAmount *float64 `json:"adjustments_amount"`
	TotalAmount       *float64 `json:"total_amount"`
}

// LineItem is one charge line of a candidate.
type LineItem struct {
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	ChargeType     string   `json:"charge_type"`
	Quantity       *float64 `json:"quantity"`
	UnitPrice      *float64 `json:"unit_price"`
	SubtotalAmount *float64 `json:"subtotal_amount"`
	TaxAmount      *float64 `json:"tax_amount"`
	FeeAmount      *float64 `json:"fee_amount"`
	TotalAmount    *float64 `json:"total_amount"`
}

// Candidate is the extractor's structured output for one document before
// validation and scoring.
type Candidate struct {
	Header          InvoiceHeader `json:"invoice_header"`
	LineItems       []LineItem    `json:"line_items"`
	ConfidenceNotes string        `json:"confidence_notes"`

	// Raw is the normalized JSON document the candidate was decoded from.
	Raw map[string]any `json:"-"`
}

// Extractor turns document text into a Candidate using prompt as the
// instruction. Transport failures return a common.CodeExtraction error and
// unusable responses a common.CodeMalformedExtraction error.
type Extractor interface {
	Extract(ctx context.Context, documentText, prompt string) (*Candidate, error)
}
