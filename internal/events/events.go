package events

import "time"

// Type identifies one lifecycle event emitted by the processing core.
type Type string

// Queue item lifecycle.
const (
	ItemEnqueued   Type = "item.enqueued"
	ItemDequeued   Type = "item.dequeued"
	ItemProcessing Type = "item.processing"
	ItemCompleted  Type = "item.completed"
	ItemRetry      Type = "item.retry"
	ItemFailed     Type = "item.failed"
)

// Batch lifecycle within a job.
const (
	BatchStarted   Type = "batch.started"
	BatchCompleted Type = "batch.completed"
	BatchFailed    Type = "batch.failed"
	BatchRetry     Type = "batch.retry"
)

// Job lifecycle.
const (
	JobSubmitted Type = "job.submitted"
	JobStarted   Type = "job.started"
	JobProgress  Type = "job.progress"
	JobCompleted Type = "job.completed"
	JobFailed    Type = "job.failed"
	JobPaused    Type = "job.paused"
	JobResumed   Type = "job.resumed"
	JobCancelled Type = "job.cancelled"
)

// Event is one notification published on the bus. JobID and ItemID are set
// when the event concerns a job or queue item; Payload carries an
// event-specific snapshot (progress, attempt, error string) and must be
// treated as read-only by listeners.
type Event struct {
	Type    Type
	Time    time.Time
	JobID   string
	ItemID  string
	Payload any
}

// Handler consumes one event. Handlers run on the bus dispatch goroutine
// and should return quickly; anything slow belongs on the listener's own
// goroutine.
type Handler func(Event)
