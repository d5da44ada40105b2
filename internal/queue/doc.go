// Package queue implements the priority work queue at the center of the
// processing core.
//
// The Manager admits opaque payloads into a fixed set of priority buckets
// (0 = highest), keeps each bucket ordered by scheduled time, and drives a
// fixed-size worker pool that dequeues the highest-priority ready item,
// runs the injected handler under a deadline, and retries failures with
// capped exponential backoff. Exhausted items land in a terminal failed
// map; nothing is ever thrown back at the enqueuer.
//
// The Manager owns no domain knowledge: handlers interpret payloads, the
// queue only schedules them. Lifecycle events are published on the event
// bus and must never block queue mutation.
//
// Treat this package as the single source of truth for scheduling
// semantics; when you change admission, ordering, or retry behavior, update
// the invariant tests alongside.
package queue
