package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tally/internal/logging"
)

const defaultBuffer = 256

type subscription struct {
	id      int
	matcher Type // empty matches every event
	handler Handler
}

// Bus fans events out to subscribers without blocking publishers.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   []subscription
	nextID int
	closed bool

	ch      chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

// NewBus constructs a bus and starts its dispatch goroutine. A buffer of
// zero or less falls back to the package default.
func NewBus(logger *slog.Logger, buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	b := &Bus{
		logger: logging.NewComponentLogger(logger, "events"),
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for one event type and returns a token for
// Unsubscribe.
func (b *Bus) Subscribe(t Type, h Handler) int {
	return b.subscribe(t, h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) int {
	return b.subscribe("", h)
}

func (b *Bus) subscribe(t Type, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, matcher: t, handler: h})
	return b.nextID
}

// Unsubscribe removes a previously registered handler. Unknown tokens are
// ignored.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish hands an event to the dispatcher. It never blocks: when the
// buffer is full the event is dropped and counted. A zero Time is stamped
// with the current time.
func (b *Bus) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	select {
	case b.ch <- evt:
	default:
		if b.dropped.Add(1) == 1 {
			b.logger.Warn("event buffer full, dropping events",
				logging.String("type", string(evt.Type)),
			)
		}
	}
}

// Dropped reports how many events were discarded due to buffer overflow.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, drains the buffer, and waits for the
// dispatcher to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.ch)
	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for evt := range b.ch {
		b.mu.RLock()
		subs := make([]subscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.RUnlock()

		for _, sub := range subs {
			if sub.matcher != "" && sub.matcher != evt.Type {
				continue
			}
			b.deliver(sub, evt)
		}
	}
}

func (b *Bus) deliver(sub subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				logging.String("type", string(evt.Type)),
				logging.Int("subscription", sub.id),
				logging.Any("panic", r),
			)
		}
	}()
	sub.handler(evt)
}
