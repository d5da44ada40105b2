package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"tally/internal/batch"
)

// Exporter serializes records as NDJSON, one line per record. The writer
// is shared across batches of the same job, so writes are serialized.
type Exporter struct {
	mu       sync.Mutex
	w        io.Writer
	maxBatch int
	timeout  time.Duration
}

// ExporterOption customizes an exporter.
type ExporterOption func(*Exporter)

// WithMaxBatch caps how many records the exporter accepts per batch.
func WithMaxBatch(n int) ExporterOption {
	return func(e *Exporter) { e.maxBatch = n }
}

// WithProcessTimeout overrides the per-batch deadline for export work.
func WithProcessTimeout(d time.Duration) ExporterOption {
	return func(e *Exporter) { e.timeout = d }
}

// NewExporter builds an NDJSON exporter writing to w.
func NewExporter(w io.Writer, opts ...ExporterOption) *Exporter {
	e := &Exporter{w: w}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exporter) Name() string { return "ndjson" }

func (e *Exporter) Supports(item any) bool {
	_, ok := asRecord(item)
	return ok
}

// MaxBatchSize caps the effective batch size when configured.
func (e *Exporter) MaxBatchSize() int { return e.maxBatch }

// ProcessTimeout hints the per-batch deadline when configured.
func (e *Exporter) ProcessTimeout() time.Duration { return e.timeout }

func (e *Exporter) Process(ctx context.Context, items []any, pctx batch.ProcessorContext) ([]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	enc := json.NewEncoder(e.w)
	out := make([]any, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, ok := asRecord(item)
		if !ok {
			return nil, fmt.Errorf("exporter received non-record item %T", item)
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
