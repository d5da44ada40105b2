package batch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tally/internal/batch"
	"tally/internal/events"
	"tally/internal/logging"
	"tally/internal/queue"
)

type fakeProcessor struct {
	name     string
	supports func(item any) bool
	process  func(ctx context.Context, items []any, pctx batch.ProcessorContext) ([]any, error)
}

func (p *fakeProcessor) Name() string { return p.name }

func (p *fakeProcessor) Supports(item any) bool {
	if p.supports == nil {
		return true
	}
	return p.supports(item)
}

func (p *fakeProcessor) Process(ctx context.Context, items []any, pctx batch.ProcessorContext) ([]any, error) {
	if p.process == nil {
		return items, nil
	}
	return p.process(ctx, items, pctx)
}

type cappedProcessor struct {
	fakeProcessor
	limit int
}

func (p *cappedProcessor) MaxBatchSize() int { return p.limit }

func newOrchestrator(t *testing.T) *batch.Orchestrator {
	t.Helper()
	queueCfg := queue.Config{
		PriorityLevels: 3,
		Concurrency:    1,
		MaxSize:        100,
		Timeout:        5 * time.Second,
	}
	o := batch.NewOrchestrator(queueCfg, testJobConfig(), logging.NewNop(), nil)
	t.Cleanup(func() { o.Stop(true) })
	return o
}

func testJobConfig() batch.Config {
	return batch.Config{
		BatchSize:          4,
		MaxConcurrency:     2,
		Timeout:            time.Second,
		RetryOnFailure:     true,
		MaxRetries:         2,
		RetryDelay:         time.Millisecond,
		StopOnError:        false,
		ParallelProcessing: true,
	}
}

func tenItems() []any {
	items := make([]any, 10)
	for i := range items {
		items[i] = i
	}
	return items
}

func waitForJob(t *testing.T, o *batch.Orchestrator, id string, cond func(batch.Snapshot) bool) batch.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := o.Job(id)
		if err != nil {
			t.Fatalf("Job: %v", err)
		}
		if cond(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	snap, _ := o.Job(id)
	t.Fatalf("job did not reach expected state, status = %s, progress = %+v", snap.Status, snap.Progress)
	return batch.Snapshot{}
}

func TestSubmitJobUnknownProcessor(t *testing.T) {
	o := newOrchestrator(t)
	_, err := o.SubmitJob(context.Background(), "j", "test", tenItems(), "missing", testJobConfig())
	if !errors.Is(err, batch.ErrProcessorNotFound) {
		t.Fatalf("error = %v, want ErrProcessorNotFound", err)
	}
}

func TestPartialSuccessWithRetries(t *testing.T) {
	o := newOrchestrator(t)
	o.RegisterProcessor(&fakeProcessor{
		name: "flaky",
		process: func(_ context.Context, items []any, pctx batch.ProcessorContext) ([]any, error) {
			if pctx.BatchIndex == 1 {
				return nil, errors.New("batch 1 always fails")
			}
			return items, nil
		},
	})

	cfg := testJobConfig()
	cfg.ParallelProcessing = false
	id, err := o.SubmitJob(context.Background(), "partial", "test", tenItems(), "flaky", cfg)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	snap, err := o.Job(id)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if snap.Status != batch.StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	result := snap.Result
	if result == nil {
		t.Fatal("nil result on completed job")
	}
	if !result.Success {
		t.Error("result.Success = false, want true for best-effort partial success")
	}
	if result.FailedItems != 4 {
		t.Errorf("FailedItems = %d, want 4", result.FailedItems)
	}
	if result.SucceededItems != 6 {
		t.Errorf("SucceededItems = %d, want 6", result.SucceededItems)
	}
	if len(result.Errors) != 4 {
		t.Errorf("len(Errors) = %d, want 4", len(result.Errors))
	}
	if got := snap.BatchAttempts(1); got != 3 {
		t.Errorf("attempts for batch 1 = %d, want 3 (original + 2 retries)", got)
	}
	for _, be := range result.Errors {
		if be.BatchIndex != 1 {
			t.Errorf("BatchError.BatchIndex = %d, want 1", be.BatchIndex)
		}
		if be.Attempt != 3 {
			t.Errorf("BatchError.Attempt = %d, want 3", be.Attempt)
		}
	}
}

func TestStopOnErrorEndsJobWithPartialProgress(t *testing.T) {
	o := newOrchestrator(t)

	var mu sync.Mutex
	var seen []int
	o.RegisterProcessor(&fakeProcessor{
		name: "flaky",
		process: func(_ context.Context, items []any, pctx batch.ProcessorContext) ([]any, error) {
			mu.Lock()
			seen = append(seen, pctx.BatchIndex)
			mu.Unlock()
			if pctx.BatchIndex == 1 {
				return nil, errors.New("batch 1 always fails")
			}
			return items, nil
		},
	})

	cfg := testJobConfig()
	cfg.ParallelProcessing = false
	cfg.StopOnError = true
	id, err := o.SubmitJob(context.Background(), "halting", "test", tenItems(), "flaky", cfg)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	snap, _ := o.Job(id)
	if snap.Status != batch.StatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
	if snap.Progress.Processed >= snap.Progress.Total {
		t.Errorf("Processed = %d, want less than total %d", snap.Progress.Processed, snap.Progress.Total)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, index := range seen {
		if index > 1 {
			t.Errorf("batch %d executed after stopOnError failure", index)
		}
	}
}

func TestUnsupportedItemsDroppedWithWarning(t *testing.T) {
	o := newOrchestrator(t)
	o.RegisterProcessor(&fakeProcessor{
		name:     "ints-only",
		supports: func(item any) bool { _, ok := item.(int); return ok },
	})

	cfg := testJobConfig()
	cfg.ParallelProcessing = false
	items := []any{1, "two", 3, "four"}
	id, err := o.SubmitJob(context.Background(), "mixed", "test", items, "ints-only", cfg)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	snap, _ := o.Job(id)
	if snap.Status != batch.StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	result := snap.Result
	if result.SucceededItems != 2 {
		t.Errorf("SucceededItems = %d, want 2", result.SucceededItems)
	}
	if len(result.Errors) != 0 {
		t.Errorf("len(Errors) = %d, want 0: dropped items are warnings", len(result.Errors))
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("len(Warnings) = %d, want 2", len(result.Warnings))
	}
	if !strings.Contains(result.Warnings[0], "unsupported") {
		t.Errorf("warning = %q, want mention of unsupported item", result.Warnings[0])
	}
}

func TestProcessorBatchSizeCap(t *testing.T) {
	o := newOrchestrator(t)

	var mu sync.Mutex
	var sizes []int
	proc := &cappedProcessor{limit: 3}
	proc.name = "capped"
	proc.process = func(_ context.Context, items []any, _ batch.ProcessorContext) ([]any, error) {
		mu.Lock()
		sizes = append(sizes, len(items))
		mu.Unlock()
		return items, nil
	}
	o.RegisterProcessor(proc)

	cfg := testJobConfig()
	cfg.ParallelProcessing = false
	cfg.BatchSize = 5
	if _, err := o.SubmitJob(context.Background(), "capped", "test", tenItems(), "capped", cfg); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{3, 3, 3, 1}
	if len(sizes) != len(want) {
		t.Fatalf("batch count = %d (%v), want %d", len(sizes), sizes, len(want))
	}
	for i, size := range sizes {
		if size != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, size, want[i])
		}
	}
}

func TestPauseResumeNeverReprocessesBatches(t *testing.T) {
	o := newOrchestrator(t)

	firstBatch := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once

	var mu sync.Mutex
	counts := make(map[int]int)
	o.RegisterProcessor(&fakeProcessor{
		name: "slow",
		process: func(_ context.Context, items []any, pctx batch.ProcessorContext) ([]any, error) {
			if pctx.BatchIndex == 0 {
				close(firstBatch)
				<-release
			}
			mu.Lock()
			counts[pctx.BatchIndex]++
			mu.Unlock()
			return items, nil
		},
	})

	id, err := o.SubmitJob(context.Background(), "resumable", "test", tenItems(), "slow", testJobConfig())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	<-firstBatch
	if err := o.PauseJob(id); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	releaseOnce.Do(func() { close(release) })

	// The in-flight batch finishes before the pause takes effect.
	snap := waitForJob(t, o, id, func(s batch.Snapshot) bool {
		return s.Status == batch.StatusPaused && s.Progress.CurrentBatch == 1
	})
	if snap.Progress.Succeeded != 4 {
		t.Fatalf("Succeeded = %d, want 4 after first batch", snap.Progress.Succeeded)
	}

	if err := o.ResumeJob(id); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	snap = waitForJob(t, o, id, func(s batch.Snapshot) bool {
		return s.Status == batch.StatusCompleted
	})

	mu.Lock()
	defer mu.Unlock()
	for index, count := range counts {
		if count != 1 {
			t.Errorf("batch %d processed %d times, want exactly once", index, count)
		}
	}
	if snap.Progress.Processed != snap.Progress.Total {
		t.Errorf("Processed = %d, want %d", snap.Progress.Processed, snap.Progress.Total)
	}
}

func TestResumeWhileBatchInFlightRunsEachBatchOnce(t *testing.T) {
	o := newOrchestrator(t)

	firstBatch := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	counts := make(map[int]int)
	o.RegisterProcessor(&fakeProcessor{
		name: "slow",
		process: func(_ context.Context, items []any, pctx batch.ProcessorContext) ([]any, error) {
			if pctx.BatchIndex == 0 {
				close(firstBatch)
				<-release
			}
			mu.Lock()
			counts[pctx.BatchIndex]++
			mu.Unlock()
			return items, nil
		},
	})

	id, err := o.SubmitJob(context.Background(), "resumable", "test", tenItems(), "slow", testJobConfig())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	// Pause and resume while batch 0 is still blocked inside Process. The
	// resume must hand the job back to the draining executor instead of
	// starting a second one that would replay batch 0.
	<-firstBatch
	if err := o.PauseJob(id); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	if err := o.ResumeJob(id); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	close(release)

	snap := waitForJob(t, o, id, func(s batch.Snapshot) bool {
		return s.Status == batch.StatusCompleted
	})

	mu.Lock()
	defer mu.Unlock()
	for index, count := range counts {
		if count != 1 {
			t.Errorf("batch %d processed %d times, want exactly once", index, count)
		}
	}
	if snap.Progress.Processed != snap.Progress.Total {
		t.Errorf("Processed = %d exceeds Total = %d", snap.Progress.Processed, snap.Progress.Total)
	}
	if snap.Progress.Succeeded != snap.Progress.Total {
		t.Errorf("Succeeded = %d, want %d", snap.Progress.Succeeded, snap.Progress.Total)
	}
}

func TestSubmitJobQueueFullPublishesCancellation(t *testing.T) {
	bus := events.NewBus(logging.NewNop(), 64)
	t.Cleanup(bus.Close)

	queueCfg := queue.Config{
		PriorityLevels: 3,
		Concurrency:    1,
		MaxSize:        1,
		Timeout:        5 * time.Second,
	}
	o := batch.NewOrchestrator(queueCfg, testJobConfig(), logging.NewNop(), bus)
	t.Cleanup(func() { o.Stop(true) })
	o.RegisterProcessor(&fakeProcessor{name: "noop"})

	var mu sync.Mutex
	seen := make(map[events.Type][]string)
	bus.SubscribeAll(func(evt events.Event) {
		mu.Lock()
		seen[evt.Type] = append(seen[evt.Type], evt.JobID)
		mu.Unlock()
	})

	// Fill the single queue slot while the workers are parked.
	o.Queue().Pause()
	firstID, err := o.SubmitJob(context.Background(), "first", "test", tenItems(), "noop", testJobConfig())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	_, err = o.SubmitJob(context.Background(), "second", "test", tenItems(), "noop", testJobConfig())
	if !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("error = %v, want ErrQueueFull", err)
	}

	// The rejected job must not linger as a phantom: its submitted event
	// is followed by a cancellation for the same id.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		cancelled := append([]string(nil), seen[events.JobCancelled]...)
		submitted := append([]string(nil), seen[events.JobSubmitted]...)
		mu.Unlock()
		if len(cancelled) == 1 {
			if cancelled[0] == firstID {
				t.Fatalf("cancelled job %s, want the rejected submission", firstID)
			}
			if len(submitted) != 2 {
				t.Fatalf("submitted events = %v, want 2", submitted)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no cancellation event for rejected job, seen %v", seen)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if _, err := o.Job(firstID); err != nil {
		t.Fatalf("Job(first): %v", err)
	}
	if jobs := o.Jobs(); len(jobs) != 1 {
		t.Fatalf("Jobs() = %d entries, want only the admitted job", len(jobs))
	}
}

func TestCancelRemovesQueuedContinuation(t *testing.T) {
	o := newOrchestrator(t)

	firstBatch := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	counts := make(map[int]int)
	o.RegisterProcessor(&fakeProcessor{
		name: "slow",
		process: func(_ context.Context, items []any, pctx batch.ProcessorContext) ([]any, error) {
			if pctx.BatchIndex == 0 {
				close(firstBatch)
				<-release
			}
			mu.Lock()
			counts[pctx.BatchIndex]++
			mu.Unlock()
			return items, nil
		},
	})

	id, err := o.SubmitJob(context.Background(), "cancellable", "test", tenItems(), "slow", testJobConfig())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	<-firstBatch
	if err := o.PauseJob(id); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	close(release)
	waitForJob(t, o, id, func(s batch.Snapshot) bool {
		return s.Status == batch.StatusPaused && s.Progress.CurrentBatch == 1
	})
	// The submit envelope completing means the paused executor has fully
	// parked, so resuming will queue a fresh continuation envelope.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := o.Queue().CompletedItem(id); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("submit envelope never completed after pause")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Park the queue so the continuation envelope stays pending, then
	// cancel: the envelope must come off the queue with the job.
	o.Queue().Pause()
	if err := o.ResumeJob(id); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	if err := o.CancelJob(id); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	o.Queue().Resume()

	snap := waitForJob(t, o, id, func(s batch.Snapshot) bool {
		return s.Status == batch.StatusCancelled
	})
	if snap.Progress.CurrentBatch != 1 {
		t.Errorf("CurrentBatch = %d, want 1", snap.Progress.CurrentBatch)
	}

	// Give a revived continuation time to show itself, then check none of
	// the later batches ever ran.
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if counts[0] != 1 {
		t.Errorf("batch 0 processed %d times, want exactly once", counts[0])
	}
	for index := 1; index < 3; index++ {
		if counts[index] != 0 {
			t.Errorf("batch %d processed %d times after cancel, want never", index, counts[index])
		}
	}
}

func TestCancelPendingJobNeverRuns(t *testing.T) {
	o := newOrchestrator(t)

	var called sync.Once
	ran := make(chan struct{})
	o.RegisterProcessor(&fakeProcessor{
		name: "never",
		process: func(_ context.Context, items []any, _ batch.ProcessorContext) ([]any, error) {
			called.Do(func() { close(ran) })
			return items, nil
		},
	})

	o.Queue().Pause()
	id, err := o.SubmitJob(context.Background(), "doomed", "test", tenItems(), "never", testJobConfig())
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if err := o.CancelJob(id); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	o.Queue().Resume()

	snap, _ := o.Job(id)
	if snap.Status != batch.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", snap.Status)
	}
	select {
	case <-ran:
		t.Fatal("processor ran for a cancelled pending job")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTerminalJobOperationsFail(t *testing.T) {
	o := newOrchestrator(t)
	o.RegisterProcessor(&fakeProcessor{name: "ok"})

	cfg := testJobConfig()
	cfg.ParallelProcessing = false
	id, err := o.SubmitJob(context.Background(), "done", "test", tenItems(), "ok", cfg)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	if err := o.CancelJob(id); !errors.Is(err, batch.ErrJobTerminal) {
		t.Errorf("CancelJob on completed job = %v, want ErrJobTerminal", err)
	}
	if err := o.PauseJob(id); !errors.Is(err, batch.ErrJobTerminal) {
		t.Errorf("PauseJob on completed job = %v, want ErrJobTerminal", err)
	}
	if err := o.ResumeJob(id); !errors.Is(err, batch.ErrJobTerminal) {
		t.Errorf("ResumeJob on completed job = %v, want ErrJobTerminal", err)
	}
	if err := o.PauseJob("nope"); !errors.Is(err, batch.ErrJobNotFound) {
		t.Errorf("PauseJob on unknown job = %v, want ErrJobNotFound", err)
	}
}

func TestClearCompletedJobs(t *testing.T) {
	o := newOrchestrator(t)
	o.RegisterProcessor(&fakeProcessor{name: "ok"})

	cfg := testJobConfig()
	cfg.ParallelProcessing = false
	for i := 0; i < 3; i++ {
		if _, err := o.SubmitJob(context.Background(), "j", "test", tenItems(), "ok", cfg); err != nil {
			t.Fatalf("SubmitJob: %v", err)
		}
	}

	if removed := o.ClearCompletedJobs(); removed != 3 {
		t.Fatalf("ClearCompletedJobs = %d, want 3", removed)
	}
	if jobs := o.Jobs(); len(jobs) != 0 {
		t.Fatalf("len(Jobs) = %d, want 0", len(jobs))
	}
}

func TestProcessorStats(t *testing.T) {
	o := newOrchestrator(t)
	o.RegisterProcessor(&fakeProcessor{name: "ok"})

	cfg := testJobConfig()
	cfg.ParallelProcessing = false
	if _, err := o.SubmitJob(context.Background(), "j1", "test", tenItems(), "ok", cfg); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if _, err := o.SubmitJob(context.Background(), "j2", "test", tenItems(), "ok", cfg); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	stats := o.ProcessorStats()
	if len(stats) != 1 {
		t.Fatalf("len(stats) = %d, want 1", len(stats))
	}
	if stats[0].Processor != "ok" {
		t.Errorf("Processor = %q, want %q", stats[0].Processor, "ok")
	}
	if stats[0].Jobs != 2 {
		t.Errorf("Jobs = %d, want 2", stats[0].Jobs)
	}
	if stats[0].Items != 20 {
		t.Errorf("Items = %d, want 20", stats[0].Items)
	}
	if stats[0].Failures != 0 {
		t.Errorf("Failures = %d, want 0", stats[0].Failures)
	}
}
