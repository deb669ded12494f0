// Package stats holds the concurrency-safe counters shared by all
// workers of one run.
package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// minElapsed floors elapsed time so rate computations never divide by zero.
const minElapsed = time.Millisecond

// Aggregator records per-operation results in a thread-safe manner. It is
// fully reset at the start of every run and never carries state across runs.
type Aggregator struct {
	mu            sync.Mutex
	hist          *hdrhistogram.Histogram
	succeeded     int64
	failed        int64
	bytes         int64
	errorsByType  map[string]int64
	start         time.Time
	stopped       time.Time
	running       bool
	activeWorkers int
}

// Snapshot is an externally observable view of one run's counters.
// Attempted == Succeeded + Failed holds at every snapshot by construction.
type Snapshot struct {
	Attempted     int64         `json:"attempted"`
	Succeeded     int64         `json:"succeeded"`
	Failed        int64         `json:"failed"`
	Bytes         int64         `json:"bytes"`
	Elapsed       time.Duration `json:"-"`
	DurationSecs  float64       `json:"duration_seconds"`
	Rate          float64       `json:"rate"` // successful operations per second
	Running       bool          `json:"running"`
	ActiveWorkers int           `json:"active_workers"`

	MeanLatency time.Duration `json:"-"`
	P50Latency  time.Duration `json:"-"`
	P99Latency  time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`

	Errors map[string]int `json:"errors,omitempty"`
}

// NewAggregator returns an idle Aggregator. Snapshot on an idle, never-run
// aggregator returns the zero Snapshot.
func NewAggregator() *Aggregator {
	return &Aggregator{
		hist:         newHistogram(),
		errorsByType: make(map[string]int64),
	}
}

func newHistogram() *hdrhistogram.Histogram {
	// Track operation latencies from 1µs up to 60s with 3 significant figures.
	return hdrhistogram.New(1, 60_000_000, 3)
}

// Reset clears every counter and marks the run started.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hist = newHistogram()
	a.succeeded = 0
	a.failed = 0
	a.bytes = 0
	a.errorsByType = make(map[string]int64)
	a.start = time.Now()
	a.stopped = time.Time{}
	a.running = true
	a.activeWorkers = 0
}

// Finish marks the run stopped and freezes the elapsed clock. Safe to call
// more than once.
func (a *Aggregator) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		a.running = false
		a.stopped = time.Now()
	}
}

// RecordSuccess records one successful operation that transferred n bytes.
func (a *Aggregator) RecordSuccess(n int, latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.succeeded++
	a.bytes += int64(n)
	a.recordLatency(latency)
}

// RecordFailure records one failed operation and buckets err by type.
func (a *Aggregator) RecordFailure(latency time.Duration, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed++
	a.recordLatency(latency)
	if err != nil {
		errorType := fmt.Sprintf("%T", err)
		if len(errorType) > 30 {
			errorType = errorType[len(errorType)-30:]
		}
		a.errorsByType[errorType]++
	}
}

// AddBytes credits transferred bytes without counting an operation. Used by
// the slow-connection worker's keep-alive fragments.
func (a *Aggregator) AddBytes(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bytes += int64(n)
}

func (a *Aggregator) recordLatency(latency time.Duration) {
	if latency <= 0 {
		return
	}
	us := latency.Microseconds()
	if us < a.hist.LowestTrackableValue() {
		us = a.hist.LowestTrackableValue()
	}
	if us > a.hist.HighestTrackableValue() {
		us = a.hist.HighestTrackableValue()
	}
	_ = a.hist.RecordValue(us)
}

// WorkerStarted increments the active-worker gauge.
func (a *Aggregator) WorkerStarted() {
	a.mu.Lock()
	a.activeWorkers++
	a.mu.Unlock()
}

// WorkerDone decrements the active-worker gauge.
func (a *Aggregator) WorkerDone() {
	a.mu.Lock()
	a.activeWorkers--
	a.mu.Unlock()
}

// Snapshot computes the current aggregated view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.start.IsZero() {
		return Snapshot{}
	}

	end := time.Now()
	if !a.stopped.IsZero() {
		end = a.stopped
	}
	elapsed := end.Sub(a.start)
	if elapsed < minElapsed {
		elapsed = minElapsed
	}

	attempted := a.succeeded + a.failed
	snap := Snapshot{
		Attempted:     attempted,
		Succeeded:     a.succeeded,
		Failed:        a.failed,
		Bytes:         a.bytes,
		Elapsed:       elapsed,
		DurationSecs:  elapsed.Seconds(),
		Rate:          float64(a.succeeded) / elapsed.Seconds(),
		Running:       a.running,
		ActiveWorkers: a.activeWorkers,
	}

	if a.hist.TotalCount() > 0 {
		snap.MeanLatency = time.Duration(a.hist.Mean()) * time.Microsecond
		snap.P50Latency = time.Duration(a.hist.ValueAtQuantile(50)) * time.Microsecond
		snap.P99Latency = time.Duration(a.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	snap.MeanLatencyMs = float64(snap.MeanLatency) / float64(time.Millisecond)
	snap.P50LatencyMs = float64(snap.P50Latency) / float64(time.Millisecond)
	snap.P99LatencyMs = float64(snap.P99Latency) / float64(time.Millisecond)

	if len(a.errorsByType) > 0 {
		snap.Errors = make(map[string]int, len(a.errorsByType))
		for k, v := range a.errorsByType {
			snap.Errors[k] = int(v)
		}
	}
	return snap
}
