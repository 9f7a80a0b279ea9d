package metrics

import (
	"context"
	"math/big"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/modlnet/modl/internal/audit"
	"github.com/modlnet/modl/internal/chain"
	"github.com/modlnet/modl/internal/paymaster"
	"github.com/modlnet/modl/internal/relayhub"
	"github.com/modlnet/modl/internal/stake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "modl"

// PrometheusCollector wraps the Collector and mirrors its metrics into
// Prometheus format. It also consumes the committed event feed so relay,
// paymaster and audit activity shows up without the API being involved.
type PrometheusCollector struct {
	collector *Collector
	registry  *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	relaysTotal      *prometheus.CounterVec
	relayGasUsed     prometheus.Histogram
	relayCharge      prometheus.Histogram
	paymasterCharged prometheus.Counter
	paymasterRefund  prometheus.Counter
	auditsTotal      *prometheus.CounterVec
	penaltiesTotal   prometheus.Counter
	slashedTotal     prometheus.Counter
	eventsTotal      *prometheus.CounterVec

	activeStreams  prometheus.Gauge
	goroutineCount prometheus.Gauge
	uptimeSeconds  prometheus.Gauge

	lastCounts   map[string]uint64
	lastCountsMu sync.Mutex
}

// NewPrometheusCollector creates a PrometheusCollector that wraps an existing
// Collector. Metrics are registered in a dedicated registry so they do not
// interfere with the default global registry.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	p := &PrometheusCollector{
		collector: c,
		registry:  prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_request_count",
			Help:      "Total number of API requests by route.",
		}, []string{"route"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency histogram by route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"route"}),
		relaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relayhub",
			Name:      "relays_total",
			Help:      "Relayed calls by outcome.",
		}, []string{"status"}),
		relayGasUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relayhub",
			Name:      "gas_used",
			Help:      "Gas charged per relayed call.",
			Buckets:   prometheus.ExponentialBuckets(10000, 2, 10),
		}),
		relayCharge: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relayhub",
			Name:      "charge_gwei",
			Help:      "Native charge per relayed call in gwei.",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 10),
		}),
		paymasterCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "paymaster",
			Name:      "charged_total",
			Help:      "Fee token base units charged to users.",
		}),
		paymasterRefund: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "paymaster",
			Name:      "refunded_total",
			Help:      "Fee token base units released back to users after a relay.",
		}),
		auditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "transitions_total",
			Help:      "Audit lifecycle transitions by outcome.",
		}, []string{"outcome"}),
		penaltiesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stake",
			Name:      "penalties_total",
			Help:      "Relay manager penalizations.",
		}),
		slashedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stake",
			Name:      "slashed_total",
			Help:      "Stake base units slashed from auditors.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed events by name.",
		}, []string{"event"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_event_streams",
			Help:      "Number of open websocket event streams.",
		}),
		goroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutine_count",
			Help:      "Number of goroutines.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the node started in seconds.",
		}),
		lastCounts: make(map[string]uint64),
	}

	p.registry.MustRegister(
		p.requestCount,
		p.requestDuration,
		p.relaysTotal,
		p.relayGasUsed,
		p.relayCharge,
		p.paymasterCharged,
		p.paymasterRefund,
		p.auditsTotal,
		p.penaltiesTotal,
		p.slashedTotal,
		p.eventsTotal,
		p.activeStreams,
		p.goroutineCount,
		p.uptimeSeconds,
	)
	return p
}

// Registry returns the Prometheus registry used by this collector.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// WatchBalance registers a gauge that calls fn on every scrape. fn must be
// safe to call concurrently with transactions.
func (p *PrometheusCollector) WatchBalance(subsystem, name, help string, fn func() *big.Int) {
	p.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return toFloat(fn()) }))
}

// RecordRequest records a request in both the Collector and Prometheus.
func (p *PrometheusCollector) RecordRequest(route string) {
	p.lastCountsMu.Lock()
	defer p.lastCountsMu.Unlock()
	p.collector.RecordRequest(route)
	p.requestCount.WithLabelValues(route).Inc()
	p.lastCounts[route]++
}

// RecordLatency records latency in both the Collector and Prometheus.
func (p *PrometheusCollector) RecordLatency(route string, duration time.Duration) {
	p.collector.RecordLatency(route, duration)
	p.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// StreamOpened increments the open stream gauge in both collectors.
func (p *PrometheusCollector) StreamOpened() {
	p.collector.StreamOpened()
	p.activeStreams.Inc()
}

// StreamClosed decrements the open stream gauge in both collectors.
func (p *PrometheusCollector) StreamClosed() {
	p.collector.StreamClosed()
	p.activeStreams.Dec()
}

// UpdateGoroutineCount updates the goroutine count in both collectors.
func (p *PrometheusCollector) UpdateGoroutineCount() {
	p.collector.UpdateGoroutineCount()
	p.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Observe folds one committed event into the metrics.
func (p *PrometheusCollector) Observe(ev chain.LoggedEvent) {
	p.collector.RecordEvent()
	p.eventsTotal.WithLabelValues(ev.Name).Inc()

	switch e := ev.Data.(type) {
	case relayhub.TransactionRelayed:
		status := e.Status.String()
		p.collector.RecordRelay(status)
		p.relaysTotal.WithLabelValues(status).Inc()
		p.relayGasUsed.Observe(float64(e.GasUsed))
		p.relayCharge.Observe(toFloat(e.Charge) / 1e9)
	case paymaster.GasCharge:
		p.paymasterCharged.Add(toFloat(e.Charge))
		p.paymasterRefund.Add(toFloat(e.Refund))
	case audit.AuditSubmitted:
		p.recordAudit("submitted")
	case audit.AuditDisputed:
		p.recordAudit("disputed")
	case audit.AuditVerified:
		p.recordAudit(strings.ToLower(e.Status.String()))
	case stake.StakePenalized:
		p.collector.RecordPenalty()
		p.penaltiesTotal.Inc()
	case stake.StakeSlashed:
		p.slashedTotal.Add(toFloat(e.Amount))
	}
}

func (p *PrometheusCollector) recordAudit(outcome string) {
	p.collector.RecordAudit(outcome)
	p.auditsTotal.WithLabelValues(outcome).Inc()
}

// Run observes every committed event on state until ctx is done.
func (p *PrometheusCollector) Run(ctx context.Context, state *chain.State) error {
	ch := make(chan chain.LoggedEvent, 256)
	sub := state.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	for {
		select {
		case ev := <-ch:
			p.Observe(ev)
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

// Sync synchronizes the Prometheus gauges with the underlying Collector.
// Call this before serving metrics so gauges reflect the latest values.
func (p *PrometheusCollector) Sync() {
	m := p.collector.GetMetrics()

	p.activeStreams.Set(float64(m.ActiveStreams))
	p.goroutineCount.Set(float64(m.GoroutineCount))
	p.uptimeSeconds.Set(m.UptimeSeconds)

	// request counts recorded directly on the Collector arrive as deltas
	p.lastCountsMu.Lock()
	for route, total := range p.collector.GetMetrics().RequestCounts {
		prev := p.lastCounts[route]
		if total > prev {
			p.requestCount.WithLabelValues(route).Add(float64(total - prev))
		}
		p.lastCounts[route] = total
	}
	p.lastCountsMu.Unlock()
}

// GetMetrics returns the JSON metrics from the underlying Collector.
func (p *PrometheusCollector) GetMetrics() *Metrics {
	return p.collector.GetMetrics()
}

// GetMetricsJSON returns JSON-encoded metrics from the underlying Collector.
func (p *PrometheusCollector) GetMetricsJSON() ([]byte, error) {
	return p.collector.GetMetricsJSON()
}

// Collector returns the underlying custom Collector.
func (p *PrometheusCollector) Collector() *Collector {
	return p.collector
}

// PrometheusHandler serves metrics in the Prometheus text exposition format,
// syncing gauges from the Collector before each scrape.
func (p *PrometheusCollector) PrometheusHandler() http.Handler {
	inner := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.UpdateGoroutineCount()
		p.Sync()
		inner.ServeHTTP(w, r)
	})
}

func toFloat(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}
