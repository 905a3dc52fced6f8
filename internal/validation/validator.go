// Package validation checks extraction candidates and scores how much they
// can be trusted. Everything here is pure.
package validation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/vipul43/invoice-worker/internal/extraction"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type IssueCode string

const (
	IssueMissingInvoiceNumber IssueCode = "missing_invoice_number"
	IssueMissingCustomerName  IssueCode = "missing_customer_name"
	IssueDueBeforeInvoiceDate IssueCode = "due_before_invoice_date"
	IssueBillingPeriodOrder   IssueCode = "billing_period_reversed"
	IssueAmountMismatch       IssueCode = "amount_mismatch"
	IssueUnparseableDate      IssueCode = "unparseable_date"
)

// amountTolerance is the allowed relative gap between the line item sum and
// the header total.
const amountTolerance = 0.01

type Issue struct {
	Field    string    `json:"field"`
	Code     IssueCode `json:"code"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

// Result is the validation report for one candidate.
type Result struct {
	Issues         []Issue `json:"issues"`
	AmountMismatch bool    `json:"amount_mismatch"`
}

func (r *Result) add(field string, code IssueCode, sev Severity, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Field:    field,
		Code:     code,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (r Result) Errors() []Issue {
	return r.filter(SeverityError)
}

func (r Result) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

func (r Result) filter(sev Severity) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == sev {
			out = append(out, is)
		}
	}
	return out
}

// DateOrderWarnings counts warnings about dates in the wrong order.
func (r Result) DateOrderWarnings() int {
	n := 0
	for _, is := range r.Issues {
		if is.Code == IssueDueBeforeInvoiceDate || is.Code == IssueBillingPeriodOrder {
			n++
		}
	}
	return n
}

// Validate inspects a candidate. It never fails; every finding becomes an
// Issue.
func Validate(c *extraction.Candidate) Result {
	res := Result{Issues: []Issue{}}
	if c == nil {
		c = &extraction.Candidate{}
	}
	h := c.Header

	if isBlank(h.InvoiceNumber) {
		res.add("invoice_number", IssueMissingInvoiceNumber, SeverityError, "invoice number is missing")
	}
	if isBlank(h.CustomerName) {
		res.add("customer_name", IssueMissingCustomerName, SeverityError, "customer name is missing")
	}

	invoiceDate := dateField(&res, "invoice_date", h.InvoiceDate)
	dueDate := dateField(&res, "due_date", h.DueDate)
	periodStart := dateField(&res, "billing_period_start", h.BillingPeriodStart)
	periodEnd := dateField(&res, "billing_period_end", h.BillingPeriodEnd)

	if invoiceDate != nil && dueDate != nil && dueDate.Before(*invoiceDate) {
		res.add("due_date", IssueDueBeforeInvoiceDate, SeverityWarning,
			"due date %s is before invoice date %s", dueDate.Format(time.DateOnly), invoiceDate.Format(time.DateOnly))
	}
	if periodStart != nil && periodEnd != nil && periodEnd.Before(*periodStart) {
		res.add("billing_period_end", IssueBillingPeriodOrder, SeverityWarning,
			"billing period ends %s before it starts %s", periodEnd.Format(time.DateOnly), periodStart.Format(time.DateOnly))
	}

	checkAmounts(&res, c)

	return res
}

func checkAmounts(res *Result, c *extraction.Candidate) {
	if c.Header.TotalAmount == nil || len(c.LineItems) == 0 {
		return
	}

	sum := 0.0
	for _, li := range c.LineItems {
		if li.TotalAmount != nil {
			sum += *li.TotalAmount
		}
	}

	total := *c.Header.TotalAmount
	diff := math.Abs(total - sum)
	if diff > amountTolerance*math.Abs(sum)+1e-9 {
		res.AmountMismatch = true
		res.add("total_amount", IssueAmountMismatch, SeverityWarning,
			"line items sum to %.2f but invoice total is %.2f", sum, total)
	}
}

// dateField parses a candidate date. Unparseable values are reported and
// treated as missing.
func dateField(res *Result, field, value string) *time.Time {
	if isBlank(value) {
		return nil
	}
	t, ok := ParseDate(value)
	if !ok {
		res.add(field, IssueUnparseableDate, SeverityWarning, "could not parse %s %q", field, value)
		return nil
	}
	return &t
}

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02-Jan-2006",
}

// ParseDate reads the date formats extraction models commonly emit. The
// result is truncated to a UTC calendar day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
