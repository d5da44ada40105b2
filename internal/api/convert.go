package api

import (
	"time"

	"tally/internal/batch"
	"tally/internal/journal"
	"tally/internal/queue"
)

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromJobSnapshot converts a live job snapshot.
func FromJobSnapshot(snap batch.Snapshot) JobSummary {
	out := JobSummary{
		ID:        snap.ID,
		Name:      snap.Name,
		Type:      snap.Type,
		Processor: snap.Processor,
		Status:    string(snap.Status),
		Progress: JobProgress{
			Total:        snap.Progress.Total,
			Processed:    snap.Progress.Processed,
			Succeeded:    snap.Progress.Succeeded,
			Failed:       snap.Progress.Failed,
			Percentage:   snap.Progress.Percentage,
			EtaSeconds:   snap.Progress.EstimatedTimeRemaining.Seconds(),
			CurrentBatch: snap.Progress.CurrentBatch,
			TotalBatches: snap.Progress.TotalBatches,
		},
		CreatedAt:   formatTimestamp(snap.CreatedAt),
		StartedAt:   formatTimestamp(snap.StartedAt),
		CompletedAt: formatTimestamp(snap.CompletedAt),
	}
	if result := snap.Result; result != nil {
		converted := JobResult{
			Success:         result.Success,
			TotalItems:      result.TotalItems,
			ProcessedItems:  result.ProcessedItems,
			SucceededItems:  result.SucceededItems,
			FailedItems:     result.FailedItems,
			DurationSeconds: result.Duration.Seconds(),
			Throughput:      result.Throughput,
			Warnings:        result.Warnings,
		}
		for _, be := range result.Errors {
			converted.Errors = append(converted.Errors, JobError{
				BatchIndex: be.BatchIndex,
				ItemIndex:  be.ItemIndex,
				Attempt:    be.Attempt,
				Message:    be.Message,
			})
		}
		out.Result = &converted
	}
	return out
}

// FromJournalRecord converts a persisted journal row into the same shape
// as a live job, for historical listings.
func FromJournalRecord(rec journal.Record) JobSummary {
	out := JobSummary{
		ID:        rec.JobID,
		Name:      rec.Name,
		Type:      rec.Type,
		Processor: rec.Processor,
		Status:    rec.Status,
		Progress: JobProgress{
			Total:     rec.TotalItems,
			Processed: rec.ProcessedItems,
			Succeeded: rec.SucceededItems,
			Failed:    rec.FailedItems,
		},
		CreatedAt:   formatTimestamp(rec.CreatedAt),
		StartedAt:   formatTimestamp(rec.StartedAt),
		CompletedAt: formatTimestamp(rec.CompletedAt),
	}
	if rec.TotalItems > 0 {
		out.Progress.Percentage = float64(rec.ProcessedItems) / float64(rec.TotalItems) * 100
	}
	return out
}

// FromQueueStatus converts queue occupancy.
func FromQueueStatus(status queue.Status) QueueStatus {
	return QueueStatus{
		Running:     status.Running,
		Paused:      status.Paused,
		Pending:     status.Pending,
		PerPriority: status.PerPriority,
		InFlight:    status.InFlight,
		Completed:   status.Completed,
		Failed:      status.Failed,
		Concurrency: status.Concurrency,
	}
}

// FromQueueMetrics converts the queue's rolling statistics.
func FromQueueMetrics(metrics queue.Metrics) QueueMetrics {
	return QueueMetrics{
		TotalProcessed:      metrics.TotalProcessed,
		TotalFailed:         metrics.TotalFailed,
		AverageWaitMS:       float64(metrics.AverageWait.Microseconds()) / 1000,
		AverageProcessingMS: float64(metrics.AverageProcessing.Microseconds()) / 1000,
		ThroughputPerSecond: metrics.ThroughputPerSecond,
		ErrorRate:           metrics.ErrorRate,
		CurrentLoad:         metrics.CurrentLoad,
	}
}

// JobConfig resolves a config payload against the daemon defaults.
func (p *JobConfigPayload) JobConfig(defaults batch.Config) batch.Config {
	cfg := defaults
	if p == nil {
		return cfg
	}
	if p.BatchSize > 0 {
		cfg.BatchSize = p.BatchSize
	}
	if p.MaxConcurrency > 0 {
		cfg.MaxConcurrency = p.MaxConcurrency
	}
	if p.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	if p.RetryOnFailure != nil {
		cfg.RetryOnFailure = *p.RetryOnFailure
	}
	if p.MaxRetries > 0 {
		cfg.MaxRetries = p.MaxRetries
	}
	if p.RetryDelayMS > 0 {
		cfg.RetryDelay = time.Duration(p.RetryDelayMS) * time.Millisecond
	}
	if p.StopOnError != nil {
		cfg.StopOnError = *p.StopOnError
	}
	if p.ParallelProcessing != nil {
		cfg.ParallelProcessing = *p.ParallelProcessing
	}
	return cfg
}
