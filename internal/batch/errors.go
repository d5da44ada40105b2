package batch

import (
	"errors"
	"fmt"
	"time"
)

// ErrProcessorNotFound rejects a job submission naming an unregistered
// processor.
var ErrProcessorNotFound = errors.New("processor not found")

// ErrJobNotFound is returned by job operations with an unknown id.
var ErrJobNotFound = errors.New("job not found")

// ErrJobTerminal is returned by pause/resume/cancel on a job that already
// reached a terminal status. Terminal jobs never transition again.
var ErrJobTerminal = errors.New("job is in a terminal state")

// BatchError records one item's share of a failed batch, tagged with the
// batch index and the attempt number that exhausted the retry budget.
type BatchError struct {
	BatchIndex int
	ItemIndex  int
	Attempt    int
	Message    string
	Time       time.Time
}

func (e BatchError) Error() string {
	return fmt.Sprintf("batch %d item %d (attempt %d): %s", e.BatchIndex, e.ItemIndex, e.Attempt, e.Message)
}

// ProcessingError wraps a processor failure with the job and batch it
// occurred in.
type ProcessingError struct {
	JobID      string
	Processor  string
	BatchIndex int
	Attempt    int
	Err        error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processor %s failed on job %s batch %d attempt %d: %v",
		e.Processor, e.JobID, e.BatchIndex, e.Attempt, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
