package queue

import "errors"

// ErrQueueFull rejects admission when the total pending count across all
// buckets has reached the configured maximum. The queue is left unchanged.
var ErrQueueFull = errors.New("queue is full")

// ErrAlreadyRunning is returned by Start when the worker pool is active.
var ErrAlreadyRunning = errors.New("queue already running")
