package queue

import (
	"time"
)

// Attempt records one processing try for diagnostics. The slice of attempts
// on an item is append-only history.
type Attempt struct {
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Error     string
}

// Item is one unit of queued work. An item lives in exactly one place at a
// time: a priority bucket while pending, the in-flight set while a worker
// holds it, or the terminal completed/failed maps.
type Item[T any] struct {
	ID          string
	Payload     T
	Priority    int
	RetryCount  int
	MaxRetries  int
	Timeout     time.Duration // zero means the manager default applies
	CreatedAt   time.Time
	ScheduledAt time.Time // earliest eligible dequeue time
	Attempts    []Attempt
}

// Ready reports whether the item is eligible for dequeue at the given time.
func (i *Item[T]) Ready(now time.Time) bool {
	return !i.ScheduledAt.After(now)
}

// LastError returns the error string of the most recent failed attempt.
func (i *Item[T]) LastError() string {
	for idx := len(i.Attempts) - 1; idx >= 0; idx-- {
		if !i.Attempts[idx].Success {
			return i.Attempts[idx].Error
		}
	}
	return ""
}

// ItemSnapshot is the read-only view of an item published with queue events
// and returned by query APIs. It never aliases manager-owned state.
type ItemSnapshot struct {
	ID          string
	Priority    int
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	ScheduledAt time.Time
	Attempts    int
	LastError   string
}

func snapshotItem[T any](item *Item[T]) ItemSnapshot {
	return ItemSnapshot{
		ID:          item.ID,
		Priority:    item.Priority,
		RetryCount:  item.RetryCount,
		MaxRetries:  item.MaxRetries,
		CreatedAt:   item.CreatedAt,
		ScheduledAt: item.ScheduledAt,
		Attempts:    len(item.Attempts),
		LastError:   item.LastError(),
	}
}
