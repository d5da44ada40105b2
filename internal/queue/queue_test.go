package queue_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tally/internal/events"
	"tally/internal/logging"
	"tally/internal/queue"
)

func testConfig() queue.Config {
	return queue.Config{
		PriorityLevels:    3,
		Concurrency:       1,
		MaxSize:           100,
		Timeout:           time.Second,
		MaxRetries:        0,
		RetryDelay:        time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        50 * time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueProcessesByPriority(t *testing.T) {
	var mu sync.Mutex
	var order []int

	handler := func(_ context.Context, item *queue.Item[int]) error {
		mu.Lock()
		order = append(order, item.Payload)
		mu.Unlock()
		return nil
	}

	m := queue.NewManager(testConfig(), handler, logging.NewNop(), nil)
	defer m.Stop(true)

	m.Pause()
	for _, priority := range []int{2, 0, 1} {
		if _, err := m.Enqueue(priority, priority); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	m.Resume()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 1, 2}
	for i, payload := range order {
		if payload != want[i] {
			t.Fatalf("processing order = %v, want %v", order, want)
		}
	}
}

func TestRetryUntilBudgetExhausted(t *testing.T) {
	var attempts atomic.Int64
	handler := func(_ context.Context, _ *queue.Item[string]) error {
		attempts.Add(1)
		return errors.New("boom")
	}

	cfg := testConfig()
	cfg.MaxRetries = 2
	m := queue.NewManager(cfg, handler, logging.NewNop(), nil)
	defer m.Stop(true)

	id, err := m.Enqueue("payload", 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, ok := m.FailedItem(id)
		return ok
	})

	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	snap, _ := m.FailedItem(id)
	if snap.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", snap.RetryCount)
	}
	if snap.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", snap.Attempts)
	}
	if snap.LastError != "boom" {
		t.Errorf("LastError = %q, want %q", snap.LastError, "boom")
	}

	metrics := m.Metrics()
	if metrics.TotalFailed != 1 {
		t.Errorf("TotalFailed = %d, want 1", metrics.TotalFailed)
	}
	if metrics.TotalProcessed != 0 {
		t.Errorf("TotalProcessed = %d, want 0", metrics.TotalProcessed)
	}
	if metrics.ErrorRate != 1 {
		t.Errorf("ErrorRate = %v, want 1", metrics.ErrorRate)
	}
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 1
	m := queue.NewManager(cfg, func(context.Context, *queue.Item[int]) error { return nil }, logging.NewNop(), nil)
	defer m.Stop(true)

	m.Pause()
	if _, err := m.Enqueue(1, 0); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if _, err := m.Enqueue(2, 0); !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("second Enqueue error = %v, want ErrQueueFull", err)
	}
	if status := m.Status(); status.Pending != 1 {
		t.Fatalf("Pending = %d, want 1 after rejected admission", status.Pending)
	}
}

func TestRemovePendingItem(t *testing.T) {
	m := queue.NewManager(testConfig(), func(context.Context, *queue.Item[int]) error { return nil }, logging.NewNop(), nil)
	defer m.Stop(true)

	m.Pause()
	id, err := m.Enqueue(7, 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if !m.Remove(id) {
		t.Fatal("Remove returned false for pending item")
	}
	if m.Remove(id) {
		t.Fatal("Remove returned true for already-removed item")
	}
	if status := m.Status(); status.Pending != 0 {
		t.Fatalf("Pending = %d, want 0", status.Pending)
	}
}

func TestRemoveInFlightCancelsAttempt(t *testing.T) {
	started := make(chan struct{})
	handler := func(ctx context.Context, _ *queue.Item[int]) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	cfg := testConfig()
	cfg.MaxRetries = 3
	m := queue.NewManager(cfg, handler, logging.NewNop(), nil)
	defer m.Stop(true)

	id, err := m.Enqueue(1, 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started

	if !m.Remove(id) {
		t.Fatal("Remove returned false for in-flight item")
	}

	waitFor(t, time.Second, func() bool {
		_, ok := m.FailedItem(id)
		return ok
	})
	snap, _ := m.FailedItem(id)
	if !strings.Contains(snap.LastError, "cancel") {
		t.Errorf("LastError = %q, want cancellation error", snap.LastError)
	}
	// Removal is terminal despite the remaining retry budget.
	if snap.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", snap.Attempts)
	}
}

func TestAttemptDeadlineTreatedAsFailure(t *testing.T) {
	handler := func(_ context.Context, _ *queue.Item[int]) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}

	m := queue.NewManager(testConfig(), handler, logging.NewNop(), nil)
	defer m.Stop(false)

	id, err := m.Enqueue(1, 0, queue.WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, ok := m.FailedItem(id)
		return ok
	})
	snap, _ := m.FailedItem(id)
	if !strings.Contains(snap.LastError, "deadline") {
		t.Errorf("LastError = %q, want deadline error", snap.LastError)
	}
}

func TestDelayedItemWaitsForSchedule(t *testing.T) {
	const delay = 100 * time.Millisecond

	var processedAt atomic.Int64
	handler := func(_ context.Context, _ *queue.Item[int]) error {
		processedAt.Store(time.Now().UnixNano())
		return nil
	}

	m := queue.NewManager(testConfig(), handler, logging.NewNop(), nil)
	defer m.Stop(true)

	enqueued := time.Now()
	id, err := m.Enqueue(1, 0, queue.WithDelay(delay))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, ok := m.CompletedItem(id)
		return ok
	})
	elapsed := time.Duration(processedAt.Load() - enqueued.UnixNano())
	if elapsed < delay-10*time.Millisecond {
		t.Fatalf("item processed after %s, want at least %s", elapsed, delay)
	}
}

func TestHandlerPanicBecomesFailure(t *testing.T) {
	handler := func(_ context.Context, _ *queue.Item[int]) error {
		panic("exploded")
	}

	m := queue.NewManager(testConfig(), handler, logging.NewNop(), nil)
	defer m.Stop(true)

	id, err := m.Enqueue(1, 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, ok := m.FailedItem(id)
		return ok
	})
	snap, _ := m.FailedItem(id)
	if !strings.Contains(snap.LastError, "panic") {
		t.Errorf("LastError = %q, want panic error", snap.LastError)
	}
}

func TestGracefulStopWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	handler := func(_ context.Context, _ *queue.Item[int]) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}

	m := queue.NewManager(testConfig(), handler, logging.NewNop(), nil)

	id, err := m.Enqueue(1, 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started

	m.Stop(true)
	if !finished.Load() {
		t.Fatal("graceful stop returned before in-flight handler finished")
	}
	if _, ok := m.CompletedItem(id); !ok {
		t.Fatal("in-flight item not completed after graceful stop")
	}
	if status := m.Status(); status.Running {
		t.Fatal("queue still running after Stop")
	}
}

func TestQueuePublishesLifecycleEvents(t *testing.T) {
	bus := events.NewBus(logging.NewNop(), 64)
	defer bus.Close()

	var mu sync.Mutex
	seen := make(map[events.Type]int)
	bus.SubscribeAll(func(evt events.Event) {
		mu.Lock()
		seen[evt.Type]++
		mu.Unlock()
	})

	m := queue.NewManager(testConfig(), func(context.Context, *queue.Item[int]) error { return nil }, logging.NewNop(), bus)
	defer m.Stop(true)

	id, err := m.Enqueue(1, 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		_, ok := m.CompletedItem(id)
		return ok
	})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[events.ItemEnqueued] == 1 &&
			seen[events.ItemDequeued] == 1 &&
			seen[events.ItemProcessing] == 1 &&
			seen[events.ItemCompleted] == 1
	})
}
