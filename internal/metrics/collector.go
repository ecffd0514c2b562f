// Package metrics provides in-memory runtime statistics collection, exported to
// Prometheus through the Collector interface.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds    float64            `json:"uptime_seconds"`
	LoadElements     *OperationSnapshot `json:"load_elements,omitempty"`
	Detect           *OperationSnapshot `json:"detect,omitempty"`
	Persist          *OperationSnapshot `json:"persist,omitempty"`
	DBQuery          *OperationSnapshot `json:"db_query,omitempty"`
	Jobs             map[string]int64   `json:"jobs"` // by outcome: completed or failure kind
	ClashesDetected  int64              `json:"clashes_detected"`
	ElementsAnalyzed int64              `json:"elements_analyzed"`
	CandidatePairs   int64              `json:"candidate_pairs"`
}

// Operation names for the collector.
const (
	OpLoadElements = "load_elements"
	OpDetect       = "detect"
	OpPersist      = "persist"
	OpDBQuery      = "db_query"
)

// Outcome recorded for jobs that finish without error.
const OutcomeCompleted = "completed"

var (
	descOpCount = prometheus.NewDesc(
		"clashcheck_operation_total",
		"Number of timed operations",
		[]string{"op"}, nil,
	)
	descOpSeconds = prometheus.NewDesc(
		"clashcheck_operation_seconds_total",
		"Total time spent in timed operations",
		[]string{"op"}, nil,
	)
	descOpMaxSeconds = prometheus.NewDesc(
		"clashcheck_operation_max_seconds",
		"Slowest observed operation",
		[]string{"op"}, nil,
	)
	descJobs = prometheus.NewDesc(
		"clashcheck_jobs_total",
		"Finished detection jobs by outcome",
		[]string{"outcome"}, nil,
	)
	descClashes = prometheus.NewDesc(
		"clashcheck_clashes_detected_total",
		"Clashes found before the result cap",
		nil, nil,
	)
	descElements = prometheus.NewDesc(
		"clashcheck_elements_analyzed_total",
		"Elements indexed across all jobs",
		nil, nil,
	)
	descPairs = prometheus.NewDesc(
		"clashcheck_candidate_pairs_total",
		"Broad-phase candidate pairs tested",
		nil, nil,
	)
	descUptime = prometheus.NewDesc(
		"clashcheck_uptime_seconds",
		"Seconds since the collector started",
		nil, nil,
	)
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics

	jobs     map[string]int64
	clashes  int64
	elements int64
	pairs    int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		jobs:      make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordJob records a finished job. outcome is OutcomeCompleted or the
// failure kind.
func (c *Collector) RecordJob(outcome string, clashes, elements, pairs int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.jobs[outcome]++
	c.clashes += int64(clashes)
	c.elements += int64(elements)
	c.pairs += int64(pairs)
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobs := make(map[string]int64, len(c.jobs))
	for k, v := range c.jobs {
		jobs[k] = v
	}

	return Snapshot{
		UptimeSeconds:    time.Since(c.startTime).Seconds(),
		LoadElements:     snapshotOp(c.ops[OpLoadElements]),
		Detect:           snapshotOp(c.ops[OpDetect]),
		Persist:          snapshotOp(c.ops[OpPersist]),
		DBQuery:          snapshotOp(c.ops[OpDBQuery]),
		Jobs:             jobs,
		ClashesDetected:  c.clashes,
		ElementsAnalyzed: c.elements,
		CandidatePairs:   c.pairs,
	}
}

// Describe implements the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descOpCount
	ch <- descOpSeconds
	ch <- descOpMaxSeconds
	ch <- descJobs
	ch <- descClashes
	ch <- descElements
	ch <- descPairs
	ch <- descUptime
}

// Collect implements the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for op, m := range c.ops {
		ch <- prometheus.MustNewConstMetric(descOpCount, prometheus.CounterValue, float64(m.Count), op)
		ch <- prometheus.MustNewConstMetric(descOpSeconds, prometheus.CounterValue, m.TotalTime.Seconds(), op)
		ch <- prometheus.MustNewConstMetric(descOpMaxSeconds, prometheus.GaugeValue, m.MaxTime.Seconds(), op)
	}
	for outcome, n := range c.jobs {
		ch <- prometheus.MustNewConstMetric(descJobs, prometheus.CounterValue, float64(n), outcome)
	}
	ch <- prometheus.MustNewConstMetric(descClashes, prometheus.CounterValue, float64(c.clashes))
	ch <- prometheus.MustNewConstMetric(descElements, prometheus.CounterValue, float64(c.elements))
	ch <- prometheus.MustNewConstMetric(descPairs, prometheus.CounterValue, float64(c.pairs))
	ch <- prometheus.MustNewConstMetric(descUptime, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}

// NewRegistry returns a registry holding c and the Go runtime collector.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	return reg, nil
}
