package journal

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tally/internal/batch"
	"tally/internal/events"
	"tally/internal/logging"
)

// Recorder subscribes to job lifecycle events and mirrors them into the
// journal. Upsert failures are logged and swallowed; persistence problems
// must never propagate into the processing core.
type Recorder struct {
	store  *Store
	bus    *events.Bus
	logger *slog.Logger
	subID  int
}

// NewRecorder attaches a recorder to the bus.
func NewRecorder(store *Store, bus *events.Bus, logger *slog.Logger) *Recorder {
	r := &Recorder{
		store:  store,
		bus:    bus,
		logger: logging.NewComponentLogger(logger, "journal"),
	}
	r.subID = bus.SubscribeAll(r.handle)
	return r
}

// Close detaches the recorder from the bus.
func (r *Recorder) Close() {
	r.bus.Unsubscribe(r.subID)
}

func (r *Recorder) handle(evt events.Event) {
	if !strings.HasPrefix(string(evt.Type), "job.") {
		return
	}
	// job.progress carries a Progress payload, not a snapshot; the next
	// lifecycle transition records the totals.
	snap, ok := evt.Payload.(batch.Snapshot)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Upsert(ctx, RecordFromSnapshot(snap)); err != nil {
		r.logger.Warn("journal upsert failed", logging.Args(
			logging.String(logging.FieldJobID, snap.ID),
			logging.String(logging.FieldEventType, string(evt.Type)),
			logging.Error(err))...)
	}
}

// RecordFromSnapshot flattens a job snapshot into a journal row.
func RecordFromSnapshot(snap batch.Snapshot) Record {
	rec := Record{
		JobID:          snap.ID,
		Name:           snap.Name,
		Type:           snap.Type,
		Processor:      snap.Processor,
		Status:         string(snap.Status),
		TotalItems:     snap.Progress.Total,
		ProcessedItems: snap.Progress.Processed,
		SucceededItems: snap.Progress.Succeeded,
		FailedItems:    snap.Progress.Failed,
		CreatedAt:      snap.CreatedAt,
		StartedAt:      snap.StartedAt,
		CompletedAt:    snap.CompletedAt,
	}
	if result := snap.Result; result != nil {
		rec.ErrorCount = len(result.Errors)
		rec.Duration = result.Duration
		rec.Throughput = result.Throughput
		if len(result.Errors) > 0 {
			rec.LastError = result.Errors[len(result.Errors)-1].Message
		}
	}
	return rec
}
