// Package metrics records pricing engine and HTTP metrics with Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a dedicated registry and the metrics registered on it.
// It satisfies the engine's Observer interface.
type Collector struct {
	registry *prometheus.Registry

	itemsTotal         *prometheus.CounterVec
	itemDuration       prometheus.Histogram
	expressionFailures prometheus.Counter
	batchesTotal       *prometheus.CounterVec
	batchItems         *prometheus.HistogramVec
	batchDuration      *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewCollector creates a collector. An empty namespace defaults to
// "battery_pricing".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "battery_pricing"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),

		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "items_total",
			Help:      "Priced items by status (ok, warning, error).",
		}, []string{"status"}),

		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "item_duration_seconds",
			Help:      "Time to price a single item.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),

		expressionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "expression_failures_total",
			Help:      "Step expressions that failed and fell back to 0.",
		}),

		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batches_total",
			Help:      "Completed simulation batches by ruleset.",
		}, []string{"ruleset"}),

		batchItems: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batch_items",
			Help:      "Items per simulation batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"ruleset"}),

		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a simulation batch.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"ruleset"}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		c.itemsTotal,
		c.itemDuration,
		c.expressionFailures,
		c.batchesTotal,
		c.batchItems,
		c.batchDuration,
		c.httpRequests,
		c.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ItemEvaluated records one priced item
func (c *Collector) ItemEvaluated(status string, duration time.Duration) {
	c.itemsTotal.WithLabelValues(status).Inc()
	c.itemDuration.Observe(duration.Seconds())
}

// ExpressionFailed records a step expression that fell back to 0
func (c *Collector) ExpressionFailed() {
	c.expressionFailures.Inc()
}

// BatchCompleted records a finished simulation batch
func (c *Collector) BatchCompleted(rulesetName string, items int, duration time.Duration) {
	c.batchesTotal.WithLabelValues(rulesetName).Inc()
	c.batchItems.WithLabelValues(rulesetName).Observe(float64(items))
	c.batchDuration.WithLabelValues(rulesetName).Observe(duration.Seconds())
}

// ObserveRequest records a served HTTP request. route is the route pattern,
// not the raw path, to keep label cardinality bounded.
func (c *Collector) ObserveRequest(method, route string, code int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
