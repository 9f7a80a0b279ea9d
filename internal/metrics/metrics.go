package metrics

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector keeps the node's counters in memory for the JSON metrics
// endpoint. PrometheusCollector mirrors them into a registry.
type Collector struct {
	requests labeledCounter // API requests by route
	relays   labeledCounter // relayed calls by relayhub status
	audits   labeledCounter // audit transitions: submitted, disputed, approved, rejected

	latencyMu sync.Mutex
	latencies map[string]*LatencyHistogram

	penalties  atomic.Uint64
	events     atomic.Uint64
	streams    atomic.Int64
	goroutines atomic.Int64

	startMu sync.RWMutex
	start   time.Time
}

// labeledCounter is a set of monotonic counters keyed by label.
type labeledCounter struct {
	mu sync.RWMutex
	m  map[string]*atomic.Uint64
}

func (lc *labeledCounter) inc(label string) {
	lc.mu.RLock()
	c, ok := lc.m[label]
	lc.mu.RUnlock()
	if !ok {
		lc.mu.Lock()
		if lc.m == nil {
			lc.m = make(map[string]*atomic.Uint64)
		}
		if c, ok = lc.m[label]; !ok {
			c = new(atomic.Uint64)
			lc.m[label] = c
		}
		lc.mu.Unlock()
	}
	c.Add(1)
}

func (lc *labeledCounter) values() map[string]uint64 {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	out := make(map[string]uint64, len(lc.m))
	for label, c := range lc.m {
		out[label] = c.Load()
	}
	return out
}

func (lc *labeledCounter) reset() {
	lc.mu.Lock()
	lc.m = nil
	lc.mu.Unlock()
}

// latencyBounds are the upper bounds of every bucket but the last.
var latencyBounds = []time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

var latencyLabels = func() []string {
	labels := make([]string, 0, len(latencyBounds)+1)
	var lower int64
	for _, b := range latencyBounds {
		labels = append(labels, fmt.Sprintf("%d-%dms", lower, b.Milliseconds()))
		lower = b.Milliseconds()
	}
	return append(labels, fmt.Sprintf("%dms+", lower))
}()

// LatencyHistogram counts request durations into fixed buckets.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets [10]uint64
	sum     time.Duration
	count   uint64
}

// Record adds one observation.
func (h *LatencyHistogram) Record(d time.Duration) {
	i := sort.Search(len(latencyBounds), func(i int) bool { return d < latencyBounds[i] })
	h.mu.Lock()
	h.buckets[i]++
	h.sum += d
	h.count++
	h.mu.Unlock()
}

func (h *LatencyHistogram) stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	st := LatencyStats{Count: h.count, SumMs: ms(h.sum), Buckets: make(map[string]uint64)}
	if h.count > 0 {
		st.AvgMs = st.SumMs / float64(h.count)
	}
	for i, n := range h.buckets {
		if n > 0 {
			st.Buckets[latencyLabels[i]] = n
		}
	}
	return st
}

// NewCollector returns an empty collector whose uptime starts now.
func NewCollector() *Collector {
	return &Collector{latencies: make(map[string]*LatencyHistogram), start: time.Now()}
}

func (c *Collector) RecordRequest(route string) { c.requests.inc(route) }

// RecordRelay counts a relayed call by relayhub status name.
func (c *Collector) RecordRelay(status string) { c.relays.inc(status) }

// RecordAudit counts an audit lifecycle transition.
func (c *Collector) RecordAudit(outcome string) { c.audits.inc(outcome) }

func (c *Collector) RecordPenalty() { c.penalties.Add(1) }

// RecordEvent counts one committed ledger event.
func (c *Collector) RecordEvent() { c.events.Add(1) }

func (c *Collector) StreamOpened() { c.streams.Add(1) }
func (c *Collector) StreamClosed() { c.streams.Add(-1) }

// UpdateGoroutineCount samples runtime.NumGoroutine.
func (c *Collector) UpdateGoroutineCount() {
	c.goroutines.Store(int64(runtime.NumGoroutine()))
}

// RecordLatency records how long one request to route took.
func (c *Collector) RecordLatency(route string, d time.Duration) {
	c.latencyMu.Lock()
	h, ok := c.latencies[route]
	if !ok {
		h = &LatencyHistogram{}
		c.latencies[route] = h
	}
	c.latencyMu.Unlock()
	h.Record(d)
}

// Metrics is a point-in-time snapshot of the collector.
type Metrics struct {
	Uptime           string                  `json:"uptime"`
	UptimeSeconds    float64                 `json:"uptime_seconds"`
	RequestCounts    map[string]uint64       `json:"request_counts"`
	RequestLatencies map[string]LatencyStats `json:"request_latencies"`
	RelayCounts      map[string]uint64       `json:"relay_counts"`
	AuditCounts      map[string]uint64       `json:"audit_counts"`
	Penalties        uint64                  `json:"penalties"`
	EventsObserved   uint64                  `json:"events_observed"`
	ActiveStreams    int64                   `json:"active_streams"`
	GoroutineCount   int64                   `json:"goroutine_count"`
	CollectedAt      time.Time               `json:"collected_at"`
}

// LatencyStats summarizes one route's histogram. Empty buckets are
// omitted.
type LatencyStats struct {
	Count   uint64            `json:"count"`
	SumMs   float64           `json:"sum_ms"`
	AvgMs   float64           `json:"avg_ms"`
	Buckets map[string]uint64 `json:"buckets"`
}

// GetMetrics takes a snapshot.
func (c *Collector) GetMetrics() *Metrics {
	c.startMu.RLock()
	uptime := time.Since(c.start)
	c.startMu.RUnlock()

	c.latencyMu.Lock()
	latencies := make(map[string]LatencyStats, len(c.latencies))
	for route, h := range c.latencies {
		latencies[route] = h.stats()
	}
	c.latencyMu.Unlock()

	return &Metrics{
		Uptime:           uptime.Round(time.Second).String(),
		UptimeSeconds:    uptime.Seconds(),
		RequestCounts:    c.requests.values(),
		RequestLatencies: latencies,
		RelayCounts:      c.relays.values(),
		AuditCounts:      c.audits.values(),
		Penalties:        c.penalties.Load(),
		EventsObserved:   c.events.Load(),
		ActiveStreams:    c.streams.Load(),
		GoroutineCount:   c.goroutines.Load(),
		CollectedAt:      time.Now(),
	}
}

// GetMetricsJSON encodes GetMetrics.
func (c *Collector) GetMetricsJSON() ([]byte, error) {
	return json.Marshal(c.GetMetrics())
}

// Reset zeroes every counter and restarts the uptime clock.
func (c *Collector) Reset() {
	c.requests.reset()
	c.relays.reset()
	c.audits.reset()

	c.latencyMu.Lock()
	c.latencies = make(map[string]*LatencyHistogram)
	c.latencyMu.Unlock()

	c.penalties.Store(0)
	c.events.Store(0)
	c.streams.Store(0)
	c.goroutines.Store(0)

	c.startMu.Lock()
	c.start = time.Now()
	c.startMu.Unlock()
}
