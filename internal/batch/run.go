package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/events"
	"tally/internal/logging"
)

// runJob drives the batch loop for one job, shared by the synchronous and
// queued paths. Pause and cancel are honored at batch boundaries only.
func (o *Orchestrator) runJob(ctx context.Context, id string) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	proc, registered := o.processors[j.processor]

	started := false
	switch j.status {
	case StatusPending:
		j.status = StatusRunning
		j.started = time.Now()
		started = true
	case StatusRunning:
		// Resumed continuation; started timestamp is preserved.
	default:
		o.mu.Unlock()
		return
	}
	if j.executing {
		// Another executor already owns this job.
		o.mu.Unlock()
		return
	}

	if !registered {
		j.result.Errors = append(j.result.Errors, BatchError{
			Attempt: 1,
			Message: fmt.Sprintf("processor %q no longer registered", j.processor),
			Time:    time.Now(),
		})
		o.mu.Unlock()
		o.finalize(id)
		return
	}

	j.executing = true
	cfg := j.config
	items := j.items
	next := j.nextBatch
	snap := j.snapshot()
	o.mu.Unlock()

	if started {
		o.publishJob(events.JobStarted, snap)
	}

	logger := o.logger.With(
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldProcessor, proc.Name()),
	)

	total := totalBatches(len(items), cfg.BatchSize)
	for i := next; i < total; i++ {
		o.mu.Lock()
		if j.status != StatusRunning {
			// Parked by pause or cancel. Clearing the flag under the same
			// lock lets ResumeJob tell a parked job from a draining one.
			j.executing = false
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		lo := i * cfg.BatchSize
		hi := lo + cfg.BatchSize
		if hi > len(items) {
			hi = len(items)
		}
		batchItems := items[lo:hi]

		supported := make([]any, 0, len(batchItems))
		var warnings []string
		for idx, item := range batchItems {
			if proc.Supports(item) {
				supported = append(supported, item)
				continue
			}
			warning := fmt.Sprintf("item %d unsupported by processor %s, dropped", lo+idx, proc.Name())
			warnings = append(warnings, warning)
			logger.Warn("dropping unsupported item", logging.Args(
				logging.Int("item", lo+idx),
				logging.Int(logging.FieldBatchIndex, i))...)
		}

		results, attempts, err := o.runBatch(ctx, proc, snapMeta{id: id, name: snap.Name, jobType: snap.Type}, supported, i, cfg, logger)

		o.mu.Lock()
		j.attempts[i] = attempts
		j.result.Warnings = append(j.result.Warnings, warnings...)
		if err == nil {
			j.result.Data = append(j.result.Data, results...)
			j.progress.Succeeded += len(results)
		} else {
			now := time.Now()
			for idx := range batchItems {
				j.result.Errors = append(j.result.Errors, BatchError{
					BatchIndex: i,
					ItemIndex:  lo + idx,
					Attempt:    attempts,
					Message:    err.Error(),
					Time:       now,
				})
			}
			j.progress.Failed += len(batchItems)
		}
		j.progress.Processed += len(batchItems)
		j.progress.CurrentBatch = i + 1
		recomputeProgress(&j.progress, j.started)
		j.nextBatch = i + 1
		progress := j.progress
		o.mu.Unlock()

		o.publishProgress(id, progress)

		if err != nil && cfg.StopOnError {
			break
		}
	}

	o.finalize(id)
}

type snapMeta struct {
	id      string
	name    string
	jobType string
}

// runBatch attempts one batch up to the retry budget with linear backoff
// between attempts. It returns the number of attempts recorded.
func (o *Orchestrator) runBatch(ctx context.Context, proc Processor, meta snapMeta, items []any, index int, cfg Config, logger *slog.Logger) ([]any, int, error) {
	maxAttempts := 1
	if cfg.RetryOnFailure && cfg.MaxRetries > 0 {
		maxAttempts += cfg.MaxRetries
	}
	timeout := processTimeout(proc, cfg.Timeout)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt == 1 {
			o.publishBatch(events.BatchStarted, meta.id, index, attempt, nil)
		} else {
			delay := cfg.RetryDelay * time.Duration(attempt-1)
			o.publishBatch(events.BatchRetry, meta.id, index, attempt, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, attempt - 1, ctx.Err()
			}
		}

		pctx := ProcessorContext{
			JobID:      meta.id,
			JobName:    meta.name,
			JobType:    meta.jobType,
			BatchIndex: index,
			Attempt:    attempt,
			Logger:     logger,
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		results, err := invokeProcessor(attemptCtx, proc, items, pctx)
		cancel()

		if err == nil {
			o.publishBatch(events.BatchCompleted, meta.id, index, attempt, nil)
			return results, attempt, nil
		}
		lastErr = err
		logger.Warn("batch attempt failed", logging.Args(
			logging.Int(logging.FieldBatchIndex, index),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Error(err))...)
	}

	o.publishBatch(events.BatchFailed, meta.id, index, maxAttempts, lastErr)
	return nil, maxAttempts, &ProcessingError{
		JobID:      meta.id,
		Processor:  proc.Name(),
		BatchIndex: index,
		Attempt:    maxAttempts,
		Err:        lastErr,
	}
}

// invokeProcessor isolates processor panics and races the call against the
// batch deadline. A processor that ignores its context is abandoned once
// the deadline passes.
func invokeProcessor(ctx context.Context, proc Processor, items []any, pctx ProcessorContext) ([]any, error) {
	type outcome struct {
		results []any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("processor panic: %v", r)}
			}
		}()
		results, err := proc.Process(ctx, items, pctx)
		done <- outcome{results: results, err: err}
	}()

	select {
	case out := <-done:
		return out.results, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func recomputeProgress(p *Progress, started time.Time) {
	if p.Total > 0 {
		p.Percentage = float64(p.Processed) / float64(p.Total) * 100
	}
	if p.Processed > 0 && p.Processed < p.Total {
		elapsed := time.Since(started)
		perItem := elapsed / time.Duration(p.Processed)
		p.EstimatedTimeRemaining = perItem * time.Duration(p.Total-p.Processed)
		return
	}
	p.EstimatedTimeRemaining = 0
}

// finalize closes out a job still marked running and records processor
// stats. Jobs stopped by pause or cancel are left to their operation.
func (o *Orchestrator) finalize(id string) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	j.executing = false
	if j.status != StatusRunning {
		o.mu.Unlock()
		return
	}

	now := time.Now()
	j.completed = now
	result := &j.result
	result.TotalItems = j.progress.Total
	result.ProcessedItems = j.progress.Processed
	result.SucceededItems = j.progress.Succeeded
	result.FailedItems = j.progress.Failed
	result.Duration = now.Sub(j.started)
	if secs := result.Duration.Seconds(); secs > 0 {
		result.Throughput = float64(result.ProcessedItems) / secs
	}
	// Best-effort jobs with partial success and no hard stop are reported
	// successful while still carrying itemized errors.
	result.Success = len(result.Errors) == 0 || (j.progress.Succeeded > 0 && !j.config.StopOnError)

	if result.Success {
		j.status = StatusCompleted
	} else {
		j.status = StatusFailed
	}

	st, ok := o.stats[j.processor]
	if !ok {
		st = &procStats{}
		o.stats[j.processor] = st
	}
	st.jobs++
	st.items += result.ProcessedItems
	st.failures += result.FailedItems
	st.totalDuration += result.Duration

	snap := j.snapshot()
	o.mu.Unlock()

	if snap.Status == StatusCompleted {
		o.publishJob(events.JobCompleted, snap)
		o.logger.Info("job completed", logging.Args(
			logging.String(logging.FieldJobID, id),
			logging.Int("succeeded", snap.Progress.Succeeded),
			logging.Int("failed", snap.Progress.Failed))...)
		return
	}
	o.publishJob(events.JobFailed, snap)
	o.logger.Error("job failed", logging.Args(
		logging.String(logging.FieldJobID, id),
		logging.Int("processed", snap.Progress.Processed),
		logging.Int("failed", snap.Progress.Failed))...)
}

func (o *Orchestrator) publishProgress(id string, progress Progress) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{Type: events.JobProgress, JobID: id, Payload: progress})
}

// batchEventPayload travels with batch lifecycle events.
type batchEventPayload struct {
	BatchIndex int
	Attempt    int
	Error      string
}

func (o *Orchestrator) publishBatch(t events.Type, jobID string, index, attempt int, err error) {
	if o.bus == nil {
		return
	}
	payload := batchEventPayload{BatchIndex: index, Attempt: attempt}
	if err != nil {
		payload.Error = err.Error()
	}
	o.bus.Publish(events.Event{Type: t, JobID: jobID, Payload: payload})
}
