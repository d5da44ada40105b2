package processors

import (
	"context"
	"fmt"

	"tally/internal/batch"
)

// Validator checks that every record carries the required fields with
// non-empty values. A batch containing an invalid record fails as a whole
// so the orchestrator's retry and error accounting apply.
type Validator struct {
	required []string
}

// NewValidator builds a validator for the given required field names.
func NewValidator(required ...string) *Validator {
	return &Validator{required: required}
}

func (v *Validator) Name() string { return "validator" }

func (v *Validator) Supports(item any) bool {
	_, ok := asRecord(item)
	return ok
}

func (v *Validator) Process(ctx context.Context, items []any, pctx batch.ProcessorContext) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, ok := asRecord(item)
		if !ok {
			return nil, fmt.Errorf("validator received non-record item %T", item)
		}
		for _, field := range v.required {
			value, present := rec.Fields[field]
			if !present || value == nil || value == "" {
				return nil, fmt.Errorf("record %s missing required field %q", rec.ID, field)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
