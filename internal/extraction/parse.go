package extraction

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vipul43/invoice-worker/internal/common"
)

var (
	headerAmounts = []string{
		"subtotal_amount", "tax_amount", "fee_amount", "discount_amount", "shipping_amount",
		"previous_balance", "payments_applied", "adjustments_amount", "total_amount",
	}
	headerStrings = []string{
		"invoice_number", "account_number", "po_number", "vendor_name", "customer_name",
		"customer_address", "contact_email", "contact_phone", "invoice_date", "due_date",
		"billing_period_start", "billing_period_end", "currency",
	}
	itemNumbers = []string{
		"quantity", "unit_price", "subtotal_amount", "tax_amount", "fee_amount", "total_amount",
	}
	itemStrings = []string{"description", "category", "charge_type"}

	reMoneyNoise = regexp.MustCompile(`[^0-9.\-]`)
)

// ParseCandidate turns a raw model response into a Candidate. Anything that
// cannot be read as the expected shape is a common.CodeMalformedExtraction error.
func ParseCandidate(content string) (*Candidate, error) {
	cleaned := cleanJSONResponse(content)
	if cleaned == "" {
		return nil, common.Errorf(common.CodeMalformedExtraction, "empty response")
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, common.NewAppError(common.CodeMalformedExtraction, "response is not a JSON object", err)
	}

	normalizeDocument(doc)

	if err := validateShape(doc); err != nil {
		return nil, common.NewAppError(common.CodeMalformedExtraction, "response does not match invoice shape", err)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, common.NewAppError(common.CodeMalformedExtraction, "re-encode response", err)
	}
	var cand Candidate
	if err := json.Unmarshal(b, &cand); err != nil {
		return nil, common.NewAppError(common.CodeMalformedExtraction, "decode candidate", err)
	}
	if cand.LineItems == nil {
		cand.LineItems = []LineItem{}
	}
	cand.Raw = doc
	return &cand, nil
}

// cleanJSONResponse removes markdown code blocks and extra whitespace from LLM response
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		// let the JSON decoder report it
		return content
	}

	return strings.TrimSpace(content[startIdx : endIdx+1])
}

// normalizeDocument coerces loosely typed model output in place: money
// strings become numbers, numbers in text fields become strings, and
// unreadable optional values are dropped.
func normalizeDocument(doc map[string]any) {
	if header, ok := doc["invoice_header"].(map[string]any); ok {
		normalizeObject(header, headerStrings, headerAmounts)
		if c, ok := header["currency"].(string); ok {
			header["currency"] = strings.ToUpper(strings.TrimSpace(c))
		}
	}

	if items, ok := doc["line_items"].([]any); ok {
		for _, it := range items {
			if item, ok := it.(map[string]any); ok {
				normalizeObject(item, itemStrings, itemNumbers)
			}
		}
	}

	switch v := doc["confidence_notes"].(type) {
	case nil, string:
	default:
		doc["confidence_notes"] = fmt.Sprint(v)
	}
}

func normalizeObject(m map[string]any, stringKeys, numberKeys []string) {
	for _, k := range stringKeys {
		switch v := m[k].(type) {
		case nil:
			delete(m, k)
		case string:
			s := strings.TrimSpace(v)
			if s == "" || strings.EqualFold(s, "null") {
				delete(m, k)
				continue
			}
			m[k] = s
		case float64:
			m[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			m[k] = strconv.FormatBool(v)
		default:
			delete(m, k)
		}
	}

	for _, k := range numberKeys {
		v, present := m[k]
		if !present {
			continue
		}
		switch t := v.(type) {
		case float64:
		case string:
			if f, ok := parseMoney(t); ok {
				m[k] = f
			} else {
				delete(m, k)
			}
		default:
			delete(m, k)
		}
	}
}

// parseMoney reads amounts like "$1,234.50", "1 234.50 USD" or "(12.00)".
func parseMoney(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return 0, false
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = reMoneyNoise.ReplaceAllString(s, "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative && f > 0 {
		f = -f
	}
	return f, true
}
