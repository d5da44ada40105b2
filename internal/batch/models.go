package batch

import (
	"fmt"
	"time"

	"tally/internal/config"
)

// Status is the lifecycle state of a batch job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus validates a status string from an external caller.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(raw), nil
	}
	return "", fmt.Errorf("unknown job status %q", raw)
}

// Config controls how one job is split and retried. It is fixed once the
// job starts.
type Config struct {
	BatchSize          int
	MaxConcurrency     int
	Timeout            time.Duration
	RetryOnFailure     bool
	MaxRetries         int
	RetryDelay         time.Duration
	StopOnError        bool
	ParallelProcessing bool
}

// DefaultConfig builds the job defaults from the application configuration.
func DefaultConfig(cfg *config.Config) Config {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	return Config{
		BatchSize:          cfg.Batch.BatchSize,
		MaxConcurrency:     cfg.Batch.MaxConcurrency,
		Timeout:            time.Duration(cfg.Batch.TimeoutSeconds) * time.Second,
		RetryOnFailure:     cfg.Batch.RetryOnFailure,
		MaxRetries:         cfg.Batch.MaxRetries,
		RetryDelay:         time.Duration(cfg.Batch.RetryDelayMS) * time.Millisecond,
		StopOnError:        cfg.Batch.StopOnError,
		ParallelProcessing: cfg.Batch.ParallelProcessing,
	}
}

// merge fills zero-valued fields from the defaults. Booleans are taken as
// given; callers submitting a job state them explicitly.
func (c Config) merge(def Config) Config {
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	return c
}

// Progress is recomputed after every batch, success or failure.
type Progress struct {
	Total                  int
	Processed              int
	Succeeded              int
	Failed                 int
	Percentage             float64
	EstimatedTimeRemaining time.Duration
	CurrentBatch           int
	TotalBatches           int
}

// Result is the terminal snapshot of a finished job. Errors are itemized
// per failed batch item; a best-effort job can be successful while still
// carrying errors.
type Result struct {
	Success        bool
	TotalItems     int
	ProcessedItems int
	SucceededItems int
	FailedItems    int
	Duration       time.Duration
	Throughput     float64
	Errors         []BatchError
	Warnings       []string
	Data           []any
}

// job is the orchestrator-owned record. All fields are guarded by the
// orchestrator mutex; nothing outside this package ever holds a reference.
type job struct {
	id        string
	name      string
	jobType   string
	processor string
	config    Config
	status    Status

	// executing is true while a runJob loop owns this job. It guards
	// against a second concurrent executor when a job is resumed before
	// the paused loop has drained its in-flight batch.
	executing bool

	items     []any
	nextBatch int
	attempts  map[int]int // attempts recorded per batch index

	progress Progress
	result   Result

	created   time.Time
	started   time.Time
	completed time.Time
	metadata  map[string]string
}

// Snapshot is the read-only view of a job returned by query APIs and
// attached to job events. It never aliases orchestrator-owned state.
type Snapshot struct {
	ID          string
	Name        string
	Type        string
	Processor   string
	Config      Config
	Status      Status
	Progress    Progress
	Result      *Result
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Metadata    map[string]string

	batchAttempts map[int]int
}

func (j *job) snapshot() Snapshot {
	snap := Snapshot{
		ID:          j.id,
		Name:        j.name,
		Type:        j.jobType,
		Processor:   j.processor,
		Config:      j.config,
		Status:      j.status,
		Progress:    j.progress,
		CreatedAt:   j.created,
		StartedAt:   j.started,
		CompletedAt: j.completed,
	}
	if len(j.metadata) > 0 {
		snap.Metadata = make(map[string]string, len(j.metadata))
		for k, v := range j.metadata {
			snap.Metadata[k] = v
		}
	}
	if len(j.attempts) > 0 {
		snap.batchAttempts = make(map[int]int, len(j.attempts))
		for k, v := range j.attempts {
			snap.batchAttempts[k] = v
		}
	}
	if j.status.Terminal() && j.status != StatusCancelled {
		result := j.result
		result.Errors = append([]BatchError(nil), j.result.Errors...)
		result.Warnings = append([]string(nil), j.result.Warnings...)
		result.Data = append([]any(nil), j.result.Data...)
		snap.Result = &result
	}
	return snap
}

// BatchAttempts reports how many attempts were recorded for a batch index.
func (s Snapshot) BatchAttempts(index int) int {
	return s.batchAttempts[index]
}
