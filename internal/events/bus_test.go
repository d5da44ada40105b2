package events_test

import (
	"sync"
	"testing"
	"time"

	"tally/internal/events"
	"tally/internal/logging"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBusDeliversToTypedSubscriber(t *testing.T) {
	bus := events.NewBus(logging.NewNop(), 16)
	defer bus.Close()

	var mu sync.Mutex
	var got []events.Event
	bus.Subscribe(events.JobStarted, func(evt events.Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	bus.Publish(events.Event{Type: events.JobStarted, JobID: "j1"})
	bus.Publish(events.Event{Type: events.JobCompleted, JobID: "j1"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0].JobID != "j1" || got[0].Type != events.JobStarted {
		t.Fatalf("unexpected event: %+v", got[0])
	}
	if got[0].Time.IsZero() {
		t.Fatal("expected publish to stamp event time")
	}
}

func TestBusIsolatesPanickingListener(t *testing.T) {
	bus := events.NewBus(logging.NewNop(), 16)
	defer bus.Close()

	var mu sync.Mutex
	received := 0
	bus.SubscribeAll(func(events.Event) {
		panic("bad subscriber")
	})
	bus.SubscribeAll(func(events.Event) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	bus.Publish(events.Event{Type: events.ItemCompleted, ItemID: "i1"})
	bus.Publish(events.Event{Type: events.ItemCompleted, ItemID: "i2"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == 2
	})
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus(logging.NewNop(), 16)
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	id := bus.SubscribeAll(func(events.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(events.Event{Type: events.ItemEnqueued})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	bus.Unsubscribe(id)
	bus.Publish(events.Event{Type: events.ItemEnqueued})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}

func TestBusPublishAfterCloseIsNoop(t *testing.T) {
	bus := events.NewBus(logging.NewNop(), 4)
	bus.Close()
	// Must not panic.
	bus.Publish(events.Event{Type: events.JobFailed})
}
