// Package batch turns bulk item lists into auditable, resumable jobs.
//
// A job is split into ordered batches and each batch is dispatched to a
// registered processor. Jobs run synchronously in the caller's context or
// ride the priority queue as a single opaque work item. Failure handling
// is per batch with linear backoff, distinct from the queue's exponential
// item backoff. Pause, resume, and cancel take effect at batch boundaries
// only.
package batch
