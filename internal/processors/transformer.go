package processors

import (
	"context"
	"fmt"

	"tally/internal/batch"
)

// Transformer renames fields and stamps constant values onto every
// record. Source records are never mutated.
type Transformer struct {
	renames   map[string]string
	constants map[string]any
}

// NewTransformer builds a transformer. Renames maps old field names to
// new ones; constants are added to every record, overwriting collisions.
func NewTransformer(renames map[string]string, constants map[string]any) *Transformer {
	return &Transformer{renames: renames, constants: constants}
}

func (t *Transformer) Name() string { return "transformer" }

func (t *Transformer) Supports(item any) bool {
	_, ok := asRecord(item)
	return ok
}

func (t *Transformer) Process(ctx context.Context, items []any, pctx batch.ProcessorContext) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, ok := asRecord(item)
		if !ok {
			return nil, fmt.Errorf("transformer received non-record item %T", item)
		}
		clone := rec.Clone()
		for from, to := range t.renames {
			if value, present := clone.Fields[from]; present {
				delete(clone.Fields, from)
				clone.Fields[to] = value
			}
		}
		for name, value := range t.constants {
			clone.Fields[name] = value
		}
		out = append(out, clone)
	}
	return out, nil
}
