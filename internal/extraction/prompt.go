package extraction

import (
	"strings"

	"github.com/vipul43/invoice-worker/internal/models"
)

// Prompt sources, recorded in logs.
const (
	PromptSourceVendor  = "vendor"
	PromptSourceDefault = "default"
)

// DefaultPrompt is used when a vendor has no active prompt. It embeds the exact
// shape ParseCandidate accepts.
const DefaultPrompt = `You are an AI that extracts structured billing data from vendor invoices.

Analyze the invoice text supplied by the user and return a STRICT JSON object.

### OUTPUT FORMAT (STRICT JSON ONLY)

{
  "invoice_header": {
    "invoice_number": "",
    "account_number": "",
    "po_number": "",
    "vendor_name": "",
    "customer_name": "",
    "customer_address": "",
    "contact_email": "",
    "contact_phone": "",
    "invoice_date": "",
    "due_date": "",
    "billing_period_start": "",
    "billing_period_end": "",
    "currency": "",
    "subtotal_amount": null,
    "tax_amount": null,
    "fee_amount": null,
    "discount_amount": null,
    "shipping_amount": null,
    "previous_balance": null,
    "payments_applied": null,
    "adjustments_amount": null,
    "total_amount": null
  },
  "line_items": [
    {
      "description": "",
      "category": "",
      "charge_type": "",
      "quantity": null,
      "unit_price": null,
      "subtotal_amount": null,
      "tax_amount": null,
      "fee_amount": null,
      "total_amount": null
    }
  ],
  "confidence_notes": ""
}

### FIELD RULES

- Dates use YYYY-MM-DD.
- currency is a 3-letter ISO 4217 code (USD, EUR, GBP, INR, ...).
- Amounts are plain numbers: no currency symbols, no thousands separators. Credits are negative.
- total_amount is the amount due for this invoice.
- charge_type is one of: "recurring", "one_time", "usage", "tax", "fee", "credit", "other".
- One line_items entry per charge line; use [] when the invoice lists none.
- confidence_notes: a short note on anything you were unsure about; say "uncertain" when a value is a guess.

### CRITICAL RULES
- Output ONLY the JSON object, no explanations.
- Use null for missing amounts and "" for missing text.
- Never invent values that are not present in the text.`

// ResolvePrompt returns the vendor's prompt text when one is active, and the
// built-in default otherwise.
func ResolvePrompt(active *models.ExtractionPrompt) (text string, source string) {
	if active != nil && strings.TrimSpace(active.PromptText) != "" {
		return active.PromptText, PromptSourceVendor
	}
	return DefaultPrompt, PromptSourceDefault
}
