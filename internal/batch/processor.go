package batch

import (
	"context"
	"log/slog"
	"time"
)

// Processor is the externally supplied capability a job dispatches its
// batches to. The orchestrator never interprets item contents; all domain
// logic lives behind this interface.
type Processor interface {
	// Name identifies the processor in the registry. Registration by an
	// existing name replaces the previous processor.
	Name() string
	// Supports reports whether the processor can handle one item.
	// Unsupported items are dropped from a batch with a warning.
	Supports(item any) bool
	// Process handles one batch and returns the produced results. It must
	// honor ctx cancellation; an overrun deadline counts as a failure.
	Process(ctx context.Context, items []any, pctx ProcessorContext) ([]any, error)
}

// BatchSizeLimiter lets a processor cap the batch size below the job
// configuration.
type BatchSizeLimiter interface {
	MaxBatchSize() int
}

// TimeoutHinter lets a processor override the per-batch deadline.
type TimeoutHinter interface {
	ProcessTimeout() time.Duration
}

// ProcessorContext carries job identity into a Process call. Attempt is
// 1-based and increments on each retry of the same batch.
type ProcessorContext struct {
	JobID      string
	JobName    string
	JobType    string
	BatchIndex int
	Attempt    int
	Logger     *slog.Logger
}

func maxBatchSize(p Processor, configured int) int {
	limiter, ok := p.(BatchSizeLimiter)
	if !ok {
		return configured
	}
	limit := limiter.MaxBatchSize()
	if limit > 0 && limit < configured {
		return limit
	}
	return configured
}

func processTimeout(p Processor, configured time.Duration) time.Duration {
	hinter, ok := p.(TimeoutHinter)
	if !ok {
		return configured
	}
	if hint := hinter.ProcessTimeout(); hint > 0 {
		return hint
	}
	return configured
}
