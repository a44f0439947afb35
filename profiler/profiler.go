// Package profiler - Runtime and pipeline metrics reported through zerolog.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler tracks memory, goroutines, custom metrics and operation
// timings, and logs a summary every report interval.
//
// All methods are safe for concurrent use.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int
	logger         zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool

	memStats    runtime.MemStats
	lastGCCount uint32

	customMetrics map[string]*MetricTracker
	collectors    []MetricsCollector

	operationTimes map[string]*TimeTracker
}

// MetricTracker keeps a sliding window of values for a custom metric.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
	last   float64
}

// TimeTracker keeps a sliding window of durations for an operation.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to log a report (default: 10s).
	ReportInterval time.Duration
	// SampleInterval specifies how often collectors and memory are sampled (default: 1s).
	SampleInterval time.Duration
	// MaxSamples bounds every sliding window (default: 600).
	MaxSamples int
	// Logger receives the reports (default: the global zerolog logger).
	Logger *zerolog.Logger
}

// MetricSummary is the aggregate of a custom metric window.
type MetricSummary struct {
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Last    float64 `json:"last"`
	Samples int     `json:"samples"`
	Count   int64   `json:"count"`
}

// TimingSummary is the aggregate of an operation timing window.
type TimingSummary struct {
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Count int64         `json:"count"`
}

// Report is a point-in-time view of the profiler state.
type Report struct {
	Uptime     time.Duration            `json:"uptime"`
	Goroutines int                      `json:"goroutines"`
	HeapAlloc  uint64                   `json:"heap_alloc"`
	GCCycles   uint32                   `json:"gc_cycles"`
	Metrics    map[string]MetricSummary `json:"metrics"`
	Timings    map[string]TimingSummary `json:"timings"`
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A configured RuntimeProfiler instance
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		logger:         logger.With().Str("component", "profiler").Logger(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start begins sampling and periodic reporting. Calling it on a running
// profiler does nothing.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}

	rp.running = true
	rp.startTime = time.Now()

	rp.wg.Add(2)
	go rp.loop(rp.sampleInterval, rp.sample)
	go rp.loop(rp.reportInterval, rp.emitStatusReport)
}

// Stop halts the background goroutines, waits for them and logs a final report.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	rp.mu.Unlock()

	rp.cancel()
	rp.wg.Wait()
	rp.emitStatusReport()
}

// AddMetricsCollector registers a collector sampled every sample interval.
//
// Arguments:
// - collector: An implementation of MetricsCollector interface
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
//
// Arguments:
// - name: The name of the metric
// - value: The metric value to record
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.observe(name, value)
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
//
// @example
//
//	done := rp.StartOperation("detect")
//	dets, err := d.Detect(frame)
//	done()
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		rp.recordOperationTime(name, time.Since(start))
	}
}

func (rp *RuntimeProfiler) recordOperationTime(name string, duration time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, ok := rp.operationTimes[name]
	if !ok {
		tracker = &TimeTracker{minTime: duration, maxTime: duration}
		rp.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > rp.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++
	tracker.minTime = min(tracker.minTime, duration)
	tracker.maxTime = max(tracker.maxTime, duration)
}

// observe must be called with rp.mu held.
func (rp *RuntimeProfiler) observe(name string, value float64) {
	tracker, ok := rp.customMetrics[name]
	if !ok {
		tracker = &MetricTracker{min: value, max: value}
		rp.customMetrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	tracker.sum += value
	if len(tracker.values) > rp.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}
	tracker.count++
	tracker.last = value
	tracker.min = min(tracker.min, value)
	tracker.max = max(tracker.max, value)
}

func (rp *RuntimeProfiler) loop(interval time.Duration, fn func()) {
	defer rp.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// sample reads memory statistics and polls the registered collectors.
func (rp *RuntimeProfiler) sample() {
	rp.mu.RLock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.mu.RUnlock()

	// Collectors run unlocked so they may call back into the profiler.
	collected := make([]map[string]float64, 0, len(collectors))
	for _, c := range collectors {
		collected = append(collected, c.CollectMetrics())
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	runtime.ReadMemStats(&rp.memStats)
	for _, metrics := range collected {
		for name, value := range metrics {
			rp.observe(name, value)
		}
	}
}

// Snapshot returns the current aggregates.
func (rp *RuntimeProfiler) Snapshot() Report {
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	r := Report{
		Uptime:     time.Since(rp.startTime),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  rp.memStats.HeapAlloc,
		GCCycles:   rp.memStats.NumGC,
		Metrics:    make(map[string]MetricSummary, len(rp.customMetrics)),
		Timings:    make(map[string]TimingSummary, len(rp.operationTimes)),
	}
	for name, t := range rp.customMetrics {
		if len(t.values) == 0 {
			continue
		}
		r.Metrics[name] = MetricSummary{
			Avg:     t.sum / float64(len(t.values)),
			Min:     t.min,
			Max:     t.max,
			Last:    t.last,
			Samples: len(t.values),
			Count:   t.count,
		}
	}
	for name, t := range rp.operationTimes {
		if len(t.durations) == 0 {
			continue
		}
		r.Timings[name] = TimingSummary{
			Avg:   t.totalTime / time.Duration(len(t.durations)),
			Min:   t.minTime,
			Max:   t.maxTime,
			Count: t.count,
		}
	}
	return r
}

// emitStatusReport logs the current aggregates as one structured event.
func (rp *RuntimeProfiler) emitStatusReport() {
	r := rp.Snapshot()

	rp.mu.Lock()
	newGC := r.GCCycles - rp.lastGCCount
	rp.lastGCCount = r.GCCycles
	rp.mu.Unlock()

	metrics := zerolog.Dict()
	for _, name := range sortedKeys(r.Metrics) {
		m := r.Metrics[name]
		metrics.Dict(name, zerolog.Dict().
			Float64("avg", m.Avg).
			Float64("min", m.Min).
			Float64("max", m.Max).
			Float64("last", m.Last).
			Int("samples", m.Samples))
	}

	timings := zerolog.Dict()
	for _, name := range sortedKeys(r.Timings) {
		t := r.Timings[name]
		timings.Dict(name, zerolog.Dict().
			Dur("avg", t.Avg.Truncate(time.Microsecond)).
			Dur("min", t.Min.Truncate(time.Microsecond)).
			Dur("max", t.Max.Truncate(time.Microsecond)).
			Int64("count", t.Count))
	}

	rp.logger.Info().
		Dur("uptime", r.Uptime.Truncate(time.Millisecond)).
		Int("goroutines", r.Goroutines).
		Int64("cgo_calls", runtime.NumCgoCall()).
		Uint64("heap_alloc", r.HeapAlloc).
		Uint32("gc_cycles", r.GCCycles).
		Uint32("gc_new", newGC).
		Dict("metrics", metrics).
		Dict("timings", timings).
		Msg("runtime profiler report")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
