package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "invoice_candidate.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func candidateSchema() map[string]any {
	nullableString := map[string]any{"type": []string{"string", "null"}}
	nullableNumber := map[string]any{"type": []string{"number", "null"}}

	header := map[string]any{}
	for _, k := range headerStrings {
		header[k] = nullableString
	}
	for _, k := range headerAmounts {
		header[k] = nullableNumber
	}

	item := map[string]any{}
	for _, k := range itemStrings {
		item[k] = nullableString
	}
	for _, k := range itemNumbers {
		item[k] = nullableNumber
	}

	return map[string]any{
		"type":     "object",
		"required": []string{"invoice_header", "line_items"},
		"properties": map[string]any{
			"invoice_header": map[string]any{
				"type":       "object",
				"properties": header,
			},
			"line_items": map[string]any{
				"type":  []string{"array", "null"},
				"items": map[string]any{"type": "object", "properties": item},
			},
			"confidence_notes": nullableString,
		},
	}
}

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(candidateSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(string(b))); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// validateShape checks a decoded document against the candidate schema.
func validateShape(doc map[string]any) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	// the validator expects values as produced by encoding/json
	var v any
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
