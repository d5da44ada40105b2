package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for batch job identifiers.
	FieldJobID = "job_id"
	// FieldItemID is the standardized structured logging key for queue item identifiers.
	FieldItemID = "item_id"
	// FieldProcessor is the standardized structured logging key for processor names.
	FieldProcessor = "processor"
	// FieldBatchIndex is the standardized structured logging key for zero-based batch indexes.
	FieldBatchIndex = "batch_index"
	// FieldAttempt is the standardized structured logging key for 1-based attempt counters.
	FieldAttempt = "attempt"
	// FieldEventType is the standardized structured logging key for machine-readable event labels.
	FieldEventType = "event_type"
)

type contextKey int

const (
	jobIDKey contextKey = iota
	itemIDKey
	processorKey
)

// WithJobID stores a batch job identifier on the context.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithItemID stores a queue item identifier on the context.
func WithItemID(ctx context.Context, itemID string) context.Context {
	return context.WithValue(ctx, itemIDKey, itemID)
}

// WithProcessor stores a processor name on the context.
func WithProcessor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, processorKey, name)
}

// JobIDFromContext returns the job identifier carried by the context, if any.
func JobIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(jobIDKey).(string)
	return v, ok && v != ""
}

// ItemIDFromContext returns the queue item identifier carried by the context, if any.
func ItemIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(itemIDKey).(string)
	return v, ok && v != ""
}

// ProcessorFromContext returns the processor name carried by the context, if any.
func ProcessorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(processorKey).(string)
	return v, ok && v != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if id, ok := ItemIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldItemID, id))
	}
	if name, ok := ProcessorFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldProcessor, name))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from
// the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
