package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsClient implements MetricsClient backed by the default
// Prometheus registry, with collectors created lazily on first use.
type PrometheusMetricsClient struct {
	namespace string
	subsystem string

	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient creates a new Prometheus-backed metrics client.
func NewPrometheusMetricsClient(namespace, subsystem string) *PrometheusMetricsClient {
	return &PrometheusMetricsClient{
		namespace:  namespace,
		subsystem:  subsystem,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (c *PrometheusMetricsClient) labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (c *PrometheusMetricsClient) getOrCreateCounter(name string, labels map[string]string) *prometheus.CounterVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[name]; ok {
		return ctr
	}
	ctr := promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      fmt.Sprintf("Counter for %s", name),
	}, c.labelNames(labels))
	c.counters[name] = ctr
	return ctr
}

func (c *PrometheusMetricsClient) getOrCreateGauge(name string, labels map[string]string) *prometheus.GaugeVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[name]; ok {
		return g
	}
	g := promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      fmt.Sprintf("Gauge for %s", name),
	}, c.labelNames(labels))
	c.gauges[name] = g
	return g
}

func (c *PrometheusMetricsClient) getOrCreateHistogram(name string, labels map[string]string) *prometheus.HistogramVec {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[name]; ok {
		return h
	}
	h := promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      fmt.Sprintf("Histogram for %s", name),
		Buckets:   prometheus.DefBuckets,
	}, c.labelNames(labels))
	c.histograms[name] = h
	return h
}

// RecordCounter adds value to the named counter.
func (c *PrometheusMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	c.getOrCreateCounter(name, labels).With(labels).Add(value)
}

// RecordGauge sets the named gauge to value.
func (c *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	c.getOrCreateGauge(name, labels).With(labels).Set(value)
}

// RecordHistogram observes value on the named histogram.
func (c *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	c.getOrCreateHistogram(name, labels).With(labels).Observe(value)
}

// IncrementCounterWithLabels is an alias of RecordCounter kept for readability at call sites.
func (c *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	c.RecordCounter(name, value, labels)
}

// RecordDuration observes a duration, in seconds, on the named histogram.
func (c *PrometheusMetricsClient) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	c.RecordHistogram(name, duration.Seconds(), labels)
}

// StartTimer starts a timer and returns a function that records the elapsed duration.
func (c *PrometheusMetricsClient) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		c.RecordDuration(name, time.Since(start), labels)
	}
}

// Close is a no-op; the default registry outlives this client.
func (c *PrometheusMetricsClient) Close() error {
	return nil
}

// NoopMetricsClient discards everything. Used by tests and CLIs that don't serve /metrics.
type NoopMetricsClient struct{}

func (NoopMetricsClient) RecordCounter(name string, value float64, labels map[string]string)            {}
func (NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string)               {}
func (NoopMetricsClient) RecordHistogram(name string, value float64, labels map[string]string)           {}
func (NoopMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {}
func (NoopMetricsClient) RecordDuration(name string, duration time.Duration, labels map[string]string)   {}
func (NoopMetricsClient) StartTimer(name string, labels map[string]string) func()                        { return func() {} }
func (NoopMetricsClient) Close() error                                                                    { return nil }
