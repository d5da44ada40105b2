package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/internal/config"
	"tally/internal/events"
	"tally/internal/logging"
)

// Handler processes one dequeued item. A nil return moves the item to the
// completed map; any error (including a deadline overrun) triggers the
// retry policy. Handlers must honor ctx cancellation; the queue never
// interrupts them preemptively.
type Handler[T any] func(ctx context.Context, item *Item[T]) error

// Config holds the queue sizing and retry policy.
type Config struct {
	PriorityLevels    int
	Concurrency       int
	MaxSize           int
	Timeout           time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// ConfigFromApp translates the application configuration section.
func ConfigFromApp(cfg *config.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		PriorityLevels:    cfg.Queue.PriorityLevels,
		Concurrency:       cfg.Queue.Concurrency,
		MaxSize:           cfg.Queue.MaxSize,
		Timeout:           time.Duration(cfg.Queue.TimeoutSeconds) * time.Second,
		MaxRetries:        cfg.Queue.MaxRetries,
		RetryDelay:        time.Duration(cfg.Queue.RetryDelayMS) * time.Millisecond,
		BackoffMultiplier: cfg.Queue.BackoffMultiplier,
		MaxBackoff:        time.Duration(cfg.Queue.MaxBackoffSeconds) * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := config.Default().Queue
	if c.PriorityLevels <= 0 {
		c.PriorityLevels = def.PriorityLevels
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.MaxSize <= 0 {
		c.MaxSize = def.MaxSize
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Duration(def.TimeoutSeconds) * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Duration(def.RetryDelayMS) * time.Millisecond
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Duration(def.MaxBackoffSeconds) * time.Second
	}
	return c
}

// Manager is the priority work queue. All mutable state is owned
// exclusively by the manager and reached only through its methods.
type Manager[T any] struct {
	cfg     Config
	handler Handler[T]
	logger  *slog.Logger
	bus     *events.Bus

	mu        sync.Mutex
	buckets   [][]*Item[T]
	pending   int
	active    int
	inflight  map[string]context.CancelFunc
	completed map[string]*Item[T]
	failed    map[string]*Item[T]
	running   bool
	paused    bool
	cancel    context.CancelFunc

	wg      sync.WaitGroup
	wake    chan struct{}
	metrics *metricsState
}

// NewManager constructs a queue manager. The bus may be nil when no
// observer cares about item lifecycle events.
func NewManager[T any](cfg Config, handler Handler[T], logger *slog.Logger, bus *events.Bus) *Manager[T] {
	cfg = cfg.withDefaults()
	return &Manager[T]{
		cfg:       cfg,
		handler:   handler,
		logger:    logging.NewComponentLogger(logger, "queue"),
		bus:       bus,
		buckets:   make([][]*Item[T], cfg.PriorityLevels),
		inflight:  make(map[string]context.CancelFunc),
		completed: make(map[string]*Item[T]),
		failed:    make(map[string]*Item[T]),
		wake:      make(chan struct{}, cfg.Concurrency),
		metrics:   newMetricsState(),
	}
}

// EnqueueOption customizes a single admission.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	delay      time.Duration
	maxRetries int
	timeout    time.Duration
	id         string
}

// WithDelay defers the earliest eligible dequeue time.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

// WithMaxRetries overrides the queue default retry budget for this item.
func WithMaxRetries(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxRetries = n }
}

// WithTimeout overrides the per-attempt deadline for this item.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.timeout = d }
}

// WithID supplies a caller-chosen item identifier.
func WithID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.id = id }
}

// Enqueue admits one payload. Priority is clamped into the valid range.
// The worker pool starts lazily on first admission. Returns ErrQueueFull
// when the pending count has reached MaxSize; the queue is untouched in
// that case.
func (m *Manager[T]) Enqueue(payload T, priority int, opts ...EnqueueOption) (string, error) {
	options := enqueueOptions{maxRetries: -1}
	for _, opt := range opts {
		opt(&options)
	}

	if priority < 0 {
		priority = 0
	}
	if priority >= m.cfg.PriorityLevels {
		priority = m.cfg.PriorityLevels - 1
	}

	maxRetries := options.maxRetries
	if maxRetries < 0 {
		maxRetries = m.cfg.MaxRetries
	}

	id := options.id
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	item := &Item[T]{
		ID:          id,
		Payload:     payload,
		Priority:    priority,
		MaxRetries:  maxRetries,
		Timeout:     options.timeout,
		CreatedAt:   now,
		ScheduledAt: now.Add(options.delay),
	}

	m.mu.Lock()
	if m.pending >= m.cfg.MaxSize {
		m.mu.Unlock()
		return "", ErrQueueFull
	}
	m.insertLocked(item)
	if !m.running {
		m.startLocked(context.Background())
	}
	snap := snapshotItem(item)
	m.mu.Unlock()

	m.publish(events.ItemEnqueued, snap)
	m.wakeOne()
	return id, nil
}

// Remove takes a still-pending item out of its bucket, or cancels the
// attempt context of an in-flight item (cooperative: the handler decides
// when to stop). Returns false when the id is unknown or already terminal.
func (m *Manager[T]) Remove(id string) bool {
	m.mu.Lock()
	for p, bucket := range m.buckets {
		for i, item := range bucket {
			if item.ID == id {
				m.buckets[p] = append(bucket[:i], bucket[i+1:]...)
				m.pending--
				m.mu.Unlock()
				return true
			}
		}
	}
	cancel, ok := m.inflight[id]
	m.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Start launches the worker pool explicitly. Enqueue starts it lazily, so
// most callers never need this.
func (m *Manager[T]) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	m.startLocked(ctx)
	return nil
}

func (m *Manager[T]) startLocked(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.cfg.Concurrency)
	for slot := 0; slot < m.cfg.Concurrency; slot++ {
		go m.worker(runCtx, slot)
	}
	m.logger.Debug("worker pool started", logging.Int("concurrency", m.cfg.Concurrency))
}

// Stop shuts the pool down. Graceful stop waits for in-flight attempts to
// finish and then clears pending state; a non-graceful stop cancels every
// in-flight attempt context and abandons the workers.
func (m *Manager[T]) Stop(graceful bool) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	var abandoned []context.CancelFunc
	if !graceful {
		for _, c := range m.inflight {
			abandoned = append(abandoned, c)
		}
	}
	m.mu.Unlock()

	cancel()
	m.wakeAll()

	if !graceful {
		for _, c := range abandoned {
			c()
		}
		return
	}

	m.wg.Wait()
	m.mu.Lock()
	for p := range m.buckets {
		m.buckets[p] = nil
	}
	m.pending = 0
	m.inflight = make(map[string]context.CancelFunc)
	m.mu.Unlock()
	m.logger.Debug("worker pool stopped")
}

// Pause stops new dequeues; in-flight work keeps running.
func (m *Manager[T]) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Resume restarts dequeuing without re-creating the pool.
func (m *Manager[T]) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.wakeAll()
}

// Status is a point-in-time summary of queue occupancy.
type Status struct {
	Running     bool
	Paused      bool
	Pending     int
	PerPriority []int
	InFlight    int
	Completed   int
	Failed      int
	Concurrency int
}

// Status reports queue occupancy and lifecycle state.
func (m *Manager[T]) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	per := make([]int, len(m.buckets))
	for p, bucket := range m.buckets {
		per[p] = len(bucket)
	}
	return Status{
		Running:     m.running,
		Paused:      m.paused,
		Pending:     m.pending,
		PerPriority: per,
		InFlight:    len(m.inflight),
		Completed:   len(m.completed),
		Failed:      len(m.failed),
		Concurrency: m.cfg.Concurrency,
	}
}

// PriorityLevels reports the configured number of priority buckets.
func (m *Manager[T]) PriorityLevels() int {
	return m.cfg.PriorityLevels
}

// Metrics reports rolling processing statistics.
func (m *Manager[T]) Metrics() Metrics {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	return m.metrics.snapshot(active, m.cfg.Concurrency)
}

// CompletedItem returns the terminal record of a successfully processed
// item, if present.
func (m *Manager[T]) CompletedItem(id string) (ItemSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.completed[id]
	if !ok {
		return ItemSnapshot{}, false
	}
	return snapshotItem(item), true
}

// FailedItem returns the terminal record of a permanently failed item, if
// present.
func (m *Manager[T]) FailedItem(id string) (ItemSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.failed[id]
	if !ok {
		return ItemSnapshot{}, false
	}
	return snapshotItem(item), true
}

// FailedItems lists every permanently failed item.
func (m *Manager[T]) FailedItems() []ItemSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ItemSnapshot, 0, len(m.failed))
	for _, item := range m.failed {
		out = append(out, snapshotItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ClearTerminal drops completed and failed records, returning how many
// were removed. The caller owns terminal retention; there is no automatic
// expiry.
func (m *Manager[T]) ClearTerminal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := len(m.completed) + len(m.failed)
	m.completed = make(map[string]*Item[T])
	m.failed = make(map[string]*Item[T])
	return removed
}

// insertLocked places an item into its bucket keeping ScheduledAt order.
// Equal keys insert after existing entries, preserving FIFO among
// equally-ready items.
func (m *Manager[T]) insertLocked(item *Item[T]) {
	bucket := m.buckets[item.Priority]
	idx := sort.Search(len(bucket), func(i int) bool {
		return bucket[i].ScheduledAt.After(item.ScheduledAt)
	})
	bucket = append(bucket, nil)
	copy(bucket[idx+1:], bucket[idx:])
	bucket[idx] = item
	m.buckets[item.Priority] = bucket
	m.pending++
}

func (m *Manager[T]) publish(t events.Type, snap ItemSnapshot) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Type: t, ItemID: snap.ID, Payload: snap})
}

func (m *Manager[T]) wakeOne() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager[T]) wakeAll() {
	for i := 0; i < m.cfg.Concurrency; i++ {
		m.wakeOne()
	}
}
