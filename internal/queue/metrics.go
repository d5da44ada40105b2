package queue

import (
	"sync"
	"time"
)

// metricsWindow bounds the rolling averages to the most recent samples.
const metricsWindow = 100

// throughputTick is the fixed interval the throughput rate is computed over.
const throughputTick = time.Second

// Metrics is a point-in-time view of queue health.
type Metrics struct {
	TotalProcessed      uint64
	TotalFailed         uint64
	AverageWait         time.Duration
	AverageProcessing   time.Duration
	ThroughputPerSecond float64
	ErrorRate           float64
	CurrentLoad         float64
}

// metricsState accumulates samples under its own lock so workers never
// contend with bucket mutation while recording.
type metricsState struct {
	mu sync.Mutex

	waits     ring
	durations ring

	totalProcessed uint64
	totalFailed    uint64

	lastTick        time.Time
	processedAtTick uint64
	throughput      float64
}

func newMetricsState() *metricsState {
	return &metricsState{lastTick: time.Now()}
}

func (m *metricsState) recordWait(d time.Duration) {
	m.mu.Lock()
	m.waits.push(d)
	m.mu.Unlock()
}

// recordAttempt samples the duration of every attempt, successful or not.
func (m *metricsState) recordAttempt(d time.Duration) {
	m.mu.Lock()
	m.durations.push(d)
	m.mu.Unlock()
}

func (m *metricsState) markProcessed() {
	m.mu.Lock()
	m.totalProcessed++
	m.tickLocked()
	m.mu.Unlock()
}

// markFailed counts permanent failures only; retried attempts are not
// failures until the retry budget is exhausted.
func (m *metricsState) markFailed() {
	m.mu.Lock()
	m.totalFailed++
	m.tickLocked()
	m.mu.Unlock()
}

func (m *metricsState) tickLocked() {
	elapsed := time.Since(m.lastTick)
	if elapsed < throughputTick {
		return
	}
	m.throughput = float64(m.totalProcessed-m.processedAtTick) / elapsed.Seconds()
	m.processedAtTick = m.totalProcessed
	m.lastTick = time.Now()
}

func (m *metricsState) snapshot(activeWorkers, concurrency int) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tickLocked()

	out := Metrics{
		TotalProcessed:      m.totalProcessed,
		TotalFailed:         m.totalFailed,
		AverageWait:         m.waits.average(),
		AverageProcessing:   m.durations.average(),
		ThroughputPerSecond: m.throughput,
	}
	if total := m.totalProcessed + m.totalFailed; total > 0 {
		out.ErrorRate = float64(m.totalFailed) / float64(total)
	}
	if concurrency > 0 {
		out.CurrentLoad = float64(activeWorkers) / float64(concurrency)
	}
	return out
}

// ring is a fixed-capacity circular buffer of duration samples.
type ring struct {
	samples [metricsWindow]time.Duration
	next    int
	count   int
}

func (r *ring) push(d time.Duration) {
	r.samples[r.next] = d
	r.next = (r.next + 1) % metricsWindow
	if r.count < metricsWindow {
		r.count++
	}
}

func (r *ring) average() time.Duration {
	if r.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < r.count; i++ {
		sum += r.samples[i]
	}
	return sum / time.Duration(r.count)
}
