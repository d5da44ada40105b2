package api_test

import (
	"testing"
	"time"

	"tally/internal/api"
	"tally/internal/batch"
	"tally/internal/journal"
	"tally/internal/queue"
)

func TestFromJobSnapshotCarriesResult(t *testing.T) {
	snap := batch.Snapshot{
		ID:        "job-1",
		Name:      "export",
		Type:      "export",
		Processor: "ndjson",
		Status:    batch.StatusCompleted,
		Progress: batch.Progress{
			Total: 10, Processed: 10, Succeeded: 6, Failed: 4,
			Percentage: 100, CurrentBatch: 3, TotalBatches: 3,
		},
		Result: &batch.Result{
			Success:        true,
			TotalItems:     10,
			ProcessedItems: 10,
			SucceededItems: 6,
			FailedItems:    4,
			Duration:       2 * time.Second,
			Throughput:     5,
			Errors:         []batch.BatchError{{BatchIndex: 1, ItemIndex: 4, Attempt: 3, Message: "boom"}},
		},
		CreatedAt:   time.Now(),
		CompletedAt: time.Now(),
	}

	out := api.FromJobSnapshot(snap)
	if out.Status != "completed" {
		t.Errorf("Status = %q, want completed", out.Status)
	}
	if out.Result == nil {
		t.Fatal("Result dropped in conversion")
	}
	if out.Result.DurationSeconds != 2 {
		t.Errorf("DurationSeconds = %v, want 2", out.Result.DurationSeconds)
	}
	if len(out.Result.Errors) != 1 || out.Result.Errors[0].Attempt != 3 {
		t.Errorf("Errors = %+v, want one error with attempt 3", out.Result.Errors)
	}
	if out.CreatedAt == "" || out.CompletedAt == "" {
		t.Error("timestamps dropped in conversion")
	}
	if out.StartedAt != "" {
		t.Error("zero StartedAt should render as empty string")
	}
}

func TestFromJournalRecordComputesPercentage(t *testing.T) {
	out := api.FromJournalRecord(journal.Record{
		JobID:          "job-1",
		Status:         "failed",
		TotalItems:     8,
		ProcessedItems: 4,
	})
	if out.Progress.Percentage != 50 {
		t.Errorf("Percentage = %v, want 50", out.Progress.Percentage)
	}
}

func TestJobConfigPayloadOverridesDefaults(t *testing.T) {
	defaults := batch.Config{
		BatchSize:      100,
		Timeout:        time.Minute,
		RetryOnFailure: true,
		MaxRetries:     2,
		StopOnError:    false,
	}

	stop := true
	payload := &api.JobConfigPayload{
		BatchSize:   10,
		StopOnError: &stop,
	}
	cfg := payload.JobConfig(defaults)
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.BatchSize)
	}
	if !cfg.StopOnError {
		t.Error("StopOnError override lost")
	}
	if !cfg.RetryOnFailure {
		t.Error("unset boolean should keep the default")
	}
	if cfg.Timeout != time.Minute {
		t.Errorf("Timeout = %s, want 1m", cfg.Timeout)
	}

	var nilPayload *api.JobConfigPayload
	if got := nilPayload.JobConfig(defaults); got != defaults {
		t.Error("nil payload should return defaults unchanged")
	}
}

func TestFromQueueMetricsConvertsDurations(t *testing.T) {
	out := api.FromQueueMetrics(queue.Metrics{
		TotalProcessed:    7,
		AverageWait:       1500 * time.Millisecond,
		AverageProcessing: 250 * time.Millisecond,
	})
	if out.AverageWaitMS != 1500 {
		t.Errorf("AverageWaitMS = %v, want 1500", out.AverageWaitMS)
	}
	if out.AverageProcessingMS != 250 {
		t.Errorf("AverageProcessingMS = %v, want 250", out.AverageProcessingMS)
	}
}
