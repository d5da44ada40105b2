package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobProgress mirrors batch.Progress in a transport-friendly format.
type JobProgress struct {
	Total        int     `json:"total"`
	Processed    int     `json:"processed"`
	Succeeded    int     `json:"succeeded"`
	Failed       int     `json:"failed"`
	Percentage   float64 `json:"percentage"`
	EtaSeconds   float64 `json:"etaSeconds"`
	CurrentBatch int     `json:"currentBatch"`
	TotalBatches int     `json:"totalBatches"`
}

// JobError is one itemized failure from a job result.
type JobError struct {
	BatchIndex int    `json:"batchIndex"`
	ItemIndex  int    `json:"itemIndex"`
	Attempt    int    `json:"attempt"`
	Message    string `json:"message"`
}

// JobResult is the terminal outcome of a finished job.
type JobResult struct {
	Success         bool       `json:"success"`
	TotalItems      int        `json:"totalItems"`
	ProcessedItems  int        `json:"processedItems"`
	SucceededItems  int        `json:"succeededItems"`
	FailedItems     int        `json:"failedItems"`
	DurationSeconds float64    `json:"durationSeconds"`
	Throughput      float64    `json:"throughput"`
	Errors          []JobError `json:"errors,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
}

// JobSummary describes one job in a transport-friendly format.
type JobSummary struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Processor   string      `json:"processor"`
	Status      string      `json:"status"`
	Progress    JobProgress `json:"progress"`
	Result      *JobResult  `json:"result,omitempty"`
	CreatedAt   string      `json:"createdAt,omitempty"`
	StartedAt   string      `json:"startedAt,omitempty"`
	CompletedAt string      `json:"completedAt,omitempty"`
}

// QueueStatus summarizes queue occupancy.
type QueueStatus struct {
	Running     bool  `json:"running"`
	Paused      bool  `json:"paused"`
	Pending     int   `json:"pending"`
	PerPriority []int `json:"perPriority"`
	InFlight    int   `json:"inFlight"`
	Completed   int   `json:"completed"`
	Failed      int   `json:"failed"`
	Concurrency int   `json:"concurrency"`
}

// QueueMetrics carries the queue's rolling statistics.
type QueueMetrics struct {
	TotalProcessed      uint64  `json:"totalProcessed"`
	TotalFailed         uint64  `json:"totalFailed"`
	AverageWaitMS       float64 `json:"averageWaitMs"`
	AverageProcessingMS float64 `json:"averageProcessingMs"`
	ThroughputPerSecond float64 `json:"throughputPerSecond"`
	ErrorRate           float64 `json:"errorRate"`
	CurrentLoad         float64 `json:"currentLoad"`
}

// DaemonStatus is the root status document.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	Queue        QueueStatus    `json:"queue"`
	JobsByStatus map[string]int `json:"jobsByStatus"`
	Processors   []string       `json:"processors"`
	JournalPath  string         `json:"journalPath,omitempty"`
	LockFilePath string         `json:"lockFilePath,omitempty"`
}

// RecordPayload is one survey response record on the wire.
type RecordPayload struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// JobConfigPayload carries per-job overrides of the batch defaults.
// Pointer booleans distinguish "unset" from an explicit false.
type JobConfigPayload struct {
	BatchSize          int   `json:"batchSize,omitempty"`
	MaxConcurrency     int   `json:"maxConcurrency,omitempty"`
	TimeoutSeconds     int   `json:"timeoutSeconds,omitempty"`
	RetryOnFailure     *bool `json:"retryOnFailure,omitempty"`
	MaxRetries         int   `json:"maxRetries,omitempty"`
	RetryDelayMS       int   `json:"retryDelayMs,omitempty"`
	StopOnError        *bool `json:"stopOnError,omitempty"`
	ParallelProcessing *bool `json:"parallelProcessing,omitempty"`
}

// SubmitJobRequest submits a list of records to a named processor.
type SubmitJobRequest struct {
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Processor string            `json:"processor"`
	Priority  *int              `json:"priority,omitempty"`
	Records   []RecordPayload   `json:"records"`
	Config    *JobConfigPayload `json:"config,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SubmitJobResponse returns the id of the created job.
type SubmitJobResponse struct {
	JobID string `json:"jobId"`
}

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobSummary `json:"job"`
}

// ClearResponse reports how many records an operation removed.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
