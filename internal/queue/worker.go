package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/events"
	"tally/internal/logging"
)

const idlePoll = time.Minute

func (m *Manager[T]) worker(ctx context.Context, slot int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", slot))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, wait := m.take(time.Now())
		if item == nil {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-m.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		m.process(item, logger)
	}
}

// take pops the highest-priority ready item, or reports how long the
// worker should sleep before anything can become ready. Within a bucket
// the head is always the earliest scheduled entry.
func (m *Manager[T]) take(now time.Time) (*Item[T], time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return nil, idlePoll
	}

	var earliest time.Time
	for p := range m.buckets {
		bucket := m.buckets[p]
		if len(bucket) == 0 {
			continue
		}
		head := bucket[0]
		if head.Ready(now) {
			m.buckets[p] = bucket[1:]
			m.pending--
			m.active++
			return head, 0
		}
		if earliest.IsZero() || head.ScheduledAt.Before(earliest) {
			earliest = head.ScheduledAt
		}
	}

	if earliest.IsZero() {
		return nil, idlePoll
	}
	wait := earliest.Sub(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return nil, wait
}

// process runs one attempt. The item is owned exclusively by this worker
// until it is re-inserted or moved to a terminal map.
func (m *Manager[T]) process(item *Item[T], logger *slog.Logger) {
	now := time.Now()
	waitedSince := item.ScheduledAt
	if item.CreatedAt.After(waitedSince) {
		waitedSince = item.CreatedAt
	}
	m.metrics.recordWait(now.Sub(waitedSince))
	m.publish(events.ItemDequeued, snapshotItem(item))

	timeout := item.Timeout
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(context.Background(), timeout)
	m.mu.Lock()
	m.inflight[item.ID] = cancel
	m.mu.Unlock()

	m.publish(events.ItemProcessing, snapshotItem(item))
	start := time.Now()
	err := m.runHandler(attemptCtx, item)
	duration := time.Since(start)
	cancel()

	m.mu.Lock()
	delete(m.inflight, item.ID)
	m.active--
	m.mu.Unlock()

	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("attempt exceeded %s deadline: %w", timeout, err)
	}

	attempt := Attempt{StartedAt: start, Duration: duration, Success: err == nil}
	if err != nil {
		attempt.Error = err.Error()
	}
	item.Attempts = append(item.Attempts, attempt)
	m.metrics.recordAttempt(duration)

	if err == nil {
		m.mu.Lock()
		m.completed[item.ID] = item
		m.mu.Unlock()
		m.metrics.markProcessed()
		m.publish(events.ItemCompleted, snapshotItem(item))
		return
	}

	// A canceled attempt means the item was removed (or the pool was torn
	// down); that is terminal regardless of remaining retry budget.
	if item.RetryCount < item.MaxRetries && !errors.Is(err, context.Canceled) {
		delay := backoffDelay(m.cfg.RetryDelay, m.cfg.BackoffMultiplier, item.RetryCount, m.cfg.MaxBackoff)
		item.RetryCount++
		item.ScheduledAt = time.Now().Add(delay)
		m.mu.Lock()
		m.insertLocked(item)
		snap := snapshotItem(item)
		m.mu.Unlock()

		logger.Warn("attempt failed, retrying", logging.Args(
			logging.String(logging.FieldItemID, item.ID),
			logging.Int(logging.FieldAttempt, item.RetryCount),
			logging.Duration("delay", delay),
			logging.Error(err))...)
		m.publish(events.ItemRetry, snap)
		m.wakeOne()
		return
	}

	m.mu.Lock()
	m.failed[item.ID] = item
	m.mu.Unlock()
	m.metrics.markFailed()

	logger.Error("item failed permanently", logging.Args(
		logging.String(logging.FieldItemID, item.ID),
		logging.Int("attempts", len(item.Attempts)),
		logging.Error(err))...)
	m.publish(events.ItemFailed, snapshotItem(item))
}

// runHandler isolates handler panics and enforces the attempt deadline
// even when the handler ignores its context. A handler that keeps running
// past the deadline is abandoned, not killed.
func (m *Manager[T]) runHandler(ctx context.Context, item *Item[T]) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- m.handler(ctx, item)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
