package validation

import (
	"math"
	"strings"

	"github.com/vipul43/invoice-worker/internal/extraction"
)

// scorePrecision is the number of decimal places a score is rounded to.
const scorePrecision = 1e4

// Score deductions.
const (
	penaltyMissingInvoiceNumber = 0.3
	penaltyMissingCustomerName  = 0.3
	penaltyMissingInvoiceDate   = 0.1
	penaltyMissingTotal         = 0.1
	penaltyDateOrder            = 0.05
	penaltyAmountMismatch       = 0.1
	penaltyNoLineItems          = 0.2
	penaltyUncertainNote        = 0.1
)

// Score returns a confidence in [0, 1] for a candidate and its validation
// result. Lower scores are reviewed first.
func Score(c *extraction.Candidate, res Result) float64 {
	if c == nil {
		c = &extraction.Candidate{}
	}
	h := c.Header
	score := 1.0

	if isBlank(h.InvoiceNumber) {
		score -= penaltyMissingInvoiceNumber
	}
	if isBlank(h.CustomerName) {
		score -= penaltyMissingCustomerName
	}
	if _, ok := ParseDate(h.InvoiceDate); !ok {
		score -= penaltyMissingInvoiceDate
	}
	if h.TotalAmount == nil {
		score -= penaltyMissingTotal
	}

	score -= penaltyDateOrder * float64(res.DateOrderWarnings())

	if res.AmountMismatch {
		score -= penaltyAmountMismatch
	}
	if len(c.LineItems) == 0 {
		score -= penaltyNoLineItems
	}
	if strings.Contains(strings.ToLower(c.ConfidenceNotes), "uncertain") {
		score -= penaltyUncertainNote
	}

	// sums of the decimal penalties drift in binary; 1-0.3-0.3-0.2 is 0.19999999999999996
	return clamp(math.Round(score*scorePrecision) / scorePrecision)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
