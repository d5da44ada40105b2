package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/internal/events"
	"tally/internal/logging"
	"tally/internal/queue"
)

// Envelope is the opaque payload the orchestrator hands to the queue for
// background job execution. The queue never sees job internals.
type Envelope struct {
	JobID string
}

// Orchestrator owns the job table and the processor registry. Jobs in
// parallel mode ride the embedded priority queue; synchronous jobs run in
// the submitter's goroutine through the same batch loop.
type Orchestrator struct {
	defaults Config
	logger   *slog.Logger
	bus      *events.Bus
	queue    *queue.Manager[Envelope]

	mu         sync.Mutex
	processors map[string]Processor
	jobs       map[string]*job
	stats      map[string]*procStats
}

type procStats struct {
	jobs          int
	items         int
	failures      int
	totalDuration time.Duration
}

// NewOrchestrator wires an orchestrator with its own queue manager. The
// bus may be nil.
func NewOrchestrator(queueCfg queue.Config, defaults Config, logger *slog.Logger, bus *events.Bus) *Orchestrator {
	o := &Orchestrator{
		defaults:   defaults,
		logger:     logging.NewComponentLogger(logger, "batch"),
		bus:        bus,
		processors: make(map[string]Processor),
		jobs:       make(map[string]*job),
		stats:      make(map[string]*procStats),
	}
	o.queue = queue.NewManager(queueCfg, o.handleEnvelope, logger, bus)
	return o
}

// Queue exposes the embedded queue manager for status and metrics.
func (o *Orchestrator) Queue() *queue.Manager[Envelope] {
	return o.queue
}

// Stop shuts the embedded queue down. Graceful stop lets running jobs
// finish their current batch loop.
func (o *Orchestrator) Stop(graceful bool) {
	o.queue.Stop(graceful)
}

// RegisterProcessor stores a processor by name. The last registration for
// a given name wins.
func (o *Orchestrator) RegisterProcessor(p Processor) {
	o.mu.Lock()
	o.processors[p.Name()] = p
	o.mu.Unlock()
	o.logger.Debug("processor registered", logging.String(logging.FieldProcessor, p.Name()))
}

// Processors lists registered processor names, sorted.
func (o *Orchestrator) Processors() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.processors))
	for name := range o.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubmitOption customizes one job submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	priority int
	metadata map[string]string
}

// WithPriority sets the queue priority of a background job explicitly.
// Without it, jobs run at the middle priority level.
func WithPriority(priority int) SubmitOption {
	return func(o *submitOptions) { o.priority = priority }
}

// WithMetadata attaches caller key/value annotations to the job record.
func WithMetadata(metadata map[string]string) SubmitOption {
	return func(o *submitOptions) { o.metadata = metadata }
}

// SubmitJob creates a job for the given items and processor. Synchronous
// jobs (ParallelProcessing false) complete before SubmitJob returns;
// otherwise the job is enqueued and the returned id can be polled.
func (o *Orchestrator) SubmitJob(ctx context.Context, name, jobType string, items []any, processorName string, cfg Config, opts ...SubmitOption) (string, error) {
	options := submitOptions{priority: -1}
	for _, opt := range opts {
		opt(&options)
	}

	o.mu.Lock()
	proc, ok := o.processors[processorName]
	if !ok {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrProcessorNotFound, processorName)
	}

	cfg = cfg.merge(o.defaults)
	cfg.BatchSize = maxBatchSize(proc, cfg.BatchSize)

	j := &job{
		id:        uuid.NewString(),
		name:      name,
		jobType:   jobType,
		processor: processorName,
		config:    cfg,
		status:    StatusPending,
		items:     append([]any(nil), items...),
		attempts:  make(map[int]int),
		created:   time.Now(),
		metadata:  options.metadata,
	}
	j.progress = Progress{
		Total:        len(j.items),
		TotalBatches: totalBatches(len(j.items), cfg.BatchSize),
	}
	o.jobs[j.id] = j
	snap := j.snapshot()
	o.mu.Unlock()

	o.publishJob(events.JobSubmitted, snap)
	o.logger.Info("job submitted", logging.Args(
		logging.String(logging.FieldJobID, j.id),
		logging.String("name", name),
		logging.String(logging.FieldProcessor, processorName),
		logging.Int("items", len(items)))...)

	if !cfg.ParallelProcessing {
		o.runJob(ctx, j.id)
		return j.id, nil
	}

	priority := options.priority
	if priority < 0 {
		priority = o.queue.PriorityLevels() / 2
	}
	if _, err := o.queue.Enqueue(Envelope{JobID: j.id}, priority,
		queue.WithID(j.id),
		queue.WithMaxRetries(0),
		queue.WithTimeout(jobBudget(proc, cfg, len(j.items)))); err != nil {
		// The submitted event is already out; publish the cancellation so
		// subscribers (the journal recorder included) do not retain a
		// phantom pending job.
		o.mu.Lock()
		j.status = StatusCancelled
		j.completed = time.Now()
		cancelled := j.snapshot()
		delete(o.jobs, j.id)
		o.mu.Unlock()
		o.publishJob(events.JobCancelled, cancelled)
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return j.id, nil
}

// jobBudget bounds the queue-level deadline of a background job: every
// batch gets its full timeout and retry schedule, plus slack for backoff
// sleeps. Batch-level deadlines inside the run are much tighter.
func jobBudget(proc Processor, cfg Config, itemCount int) time.Duration {
	attempts := 1
	if cfg.RetryOnFailure && cfg.MaxRetries > 0 {
		attempts += cfg.MaxRetries
	}
	perBatch := processTimeout(proc, cfg.Timeout)
	batches := totalBatches(itemCount, cfg.BatchSize)
	return perBatch*time.Duration(batches*attempts) + time.Duration(batches)*cfg.RetryDelay*time.Duration(attempts) + time.Minute
}

// PauseJob moves a running job to paused. The transition takes effect at
// the next batch boundary; the in-flight batch always finishes.
func (o *Orchestrator) PauseJob(id string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}
	if j.status.Terminal() {
		o.mu.Unlock()
		return ErrJobTerminal
	}
	if j.status != StatusRunning {
		status := j.status
		o.mu.Unlock()
		return fmt.Errorf("cannot pause job in status %s", status)
	}
	j.status = StatusPaused
	snap := j.snapshot()
	o.mu.Unlock()

	o.publishJob(events.JobPaused, snap)
	o.logger.Info("job paused", logging.String(logging.FieldJobID, id))
	return nil
}

// ResumeJob moves a paused job back to running and schedules the
// continuation on the queue, starting at the next unexecuted batch index.
// Already-succeeded batches are never reprocessed.
func (o *Orchestrator) ResumeJob(id string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}
	if j.status.Terminal() {
		o.mu.Unlock()
		return ErrJobTerminal
	}
	if j.status != StatusPaused {
		status := j.status
		o.mu.Unlock()
		return fmt.Errorf("cannot resume job in status %s", status)
	}
	j.status = StatusRunning
	// A paused job whose executor is still draining its in-flight batch
	// resumes in place: the loop observes the running status at the next
	// boundary. Enqueueing a second envelope here would start a second
	// executor for the same job.
	inPlace := j.executing
	proc := o.processors[j.processor]
	cfg := j.config
	itemCount := len(j.items)
	snap := j.snapshot()
	o.mu.Unlock()

	if !inPlace {
		priority := o.queue.PriorityLevels() / 2
		if _, err := o.queue.Enqueue(Envelope{JobID: id}, priority,
			queue.WithID(id),
			queue.WithMaxRetries(0),
			queue.WithTimeout(jobBudget(proc, cfg, itemCount))); err != nil {
			o.mu.Lock()
			j.status = StatusPaused
			o.mu.Unlock()
			return fmt.Errorf("enqueue resumed job: %w", err)
		}
	}

	o.publishJob(events.JobResumed, snap)
	o.logger.Info("job resumed", logging.Args(
		logging.String(logging.FieldJobID, id),
		logging.Int(logging.FieldBatchIndex, snap.Progress.CurrentBatch))...)
	return nil
}

// CancelJob moves a pending, running, or paused job to cancelled. Running
// jobs stop at the next batch boundary; a pending background job is also
// pulled off the queue.
func (o *Orchestrator) CancelJob(id string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return ErrJobNotFound
	}
	if j.status.Terminal() {
		o.mu.Unlock()
		return ErrJobTerminal
	}
	// Submit and resume both enqueue envelopes under the job id, so a job
	// without an active executor may still have an envelope sitting in
	// the queue. An executing job is never touched at the queue level;
	// its loop parks at the next boundary.
	wasQueued := !j.executing && (j.status == StatusPending || j.status == StatusRunning)
	j.status = StatusCancelled
	j.completed = time.Now()
	snap := j.snapshot()
	o.mu.Unlock()

	if wasQueued {
		o.queue.Remove(id)
	}

	o.publishJob(events.JobCancelled, snap)
	o.logger.Info("job cancelled", logging.String(logging.FieldJobID, id))
	return nil
}

// ClearCompletedJobs removes completed and failed jobs from the table and
// returns how many were removed. There is no automatic expiry; retention
// is the caller's responsibility.
func (o *Orchestrator) ClearCompletedJobs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	removed := 0
	for id, j := range o.jobs {
		if j.status == StatusCompleted || j.status == StatusFailed {
			delete(o.jobs, id)
			removed++
		}
	}
	return removed
}

// Job returns a snapshot of one job.
func (o *Orchestrator) Job(id string) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// Jobs returns snapshots of every job, oldest first.
func (o *Orchestrator) Jobs() []Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Snapshot, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// JobsByStatus returns snapshots of jobs in the given status, oldest first.
func (o *Orchestrator) JobsByStatus(status Status) []Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Snapshot, 0)
	for _, j := range o.jobs {
		if j.status == status {
			out = append(out, j.snapshot())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// ProcessorStats summarizes finished work per processor.
type ProcessorStats struct {
	Processor       string
	Jobs            int
	Items           int
	Failures        int
	AverageDuration time.Duration
}

// ProcessorStats reports per-processor totals over finished jobs, sorted
// by processor name.
func (o *Orchestrator) ProcessorStats() []ProcessorStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ProcessorStats, 0, len(o.stats))
	for name, st := range o.stats {
		stat := ProcessorStats{
			Processor: name,
			Jobs:      st.jobs,
			Items:     st.items,
			Failures:  st.failures,
		}
		if st.jobs > 0 {
			stat.AverageDuration = st.totalDuration / time.Duration(st.jobs)
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Processor < out[k].Processor })
	return out
}

func (o *Orchestrator) handleEnvelope(ctx context.Context, item *queue.Item[Envelope]) error {
	// Job-level failures live in the job record; the queue item itself is
	// done once the run returns. Retrying the envelope would reprocess
	// batches the job already completed.
	o.runJob(ctx, item.Payload.JobID)
	return nil
}

func (o *Orchestrator) publishJob(t events.Type, snap Snapshot) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{Type: t, JobID: snap.ID, Payload: snap})
}

func totalBatches(itemCount, batchSize int) int {
	if itemCount == 0 || batchSize <= 0 {
		return 0
	}
	return (itemCount + batchSize - 1) / batchSize
}
