// Package observability exports worker counters as Prometheus metrics.
//
// Workers never touch the collectors on the request path: they count into a
// plain WorkerCounters value on their own thread and hand it to Flush once
// per tick.
package observability

import (
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// MetricsConfig configures the collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "spserver").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for tick duration.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "spserver",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors shared by all workers.
type Metrics struct {
	requests      *prometheus.CounterVec
	malformed     *prometheus.CounterVec
	handlerErrors *prometheus.CounterVec
	accepted      *prometheus.CounterVec
	connections   *prometheus.GaugeVec

	routeHits   *prometheus.CounterVec
	routeMisses *prometheus.CounterVec
	routeSize   *prometheus.GaugeVec

	fileRequests  *prometheus.CounterVec
	fileLoads     *prometheus.CounterVec
	fileErrors    *prometheus.CounterVec
	fileEvictions *prometheus.CounterVec
	fileCapacity  *prometheus.GaugeVec
	fileLoaded    *prometheus.GaugeVec

	tickDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, append([]string{"worker"}, labels...))
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, []string{"worker"})
	}

	return &Metrics{
		requests:      counter("requests_total", "Requests answered, by status class", "class"),
		malformed:     counter("malformed_requests_total", "Requests rejected as malformed"),
		handlerErrors: counter("handler_errors_total", "Handler errors and panics turned into 500 responses"),
		accepted:      counter("connections_accepted_total", "Accepted connections"),
		connections:   gauge("connections_active", "Open connections"),

		routeHits:   counter("route_cache_hits_total", "Route cache hits"),
		routeMisses: counter("route_cache_misses_total", "Route cache misses"),
		routeSize:   gauge("route_cache_entries", "Occupied route cache slots"),

		fileRequests:  counter("file_cache_requests_total", "Static file requests"),
		fileLoads:     counter("file_cache_loads_total", "Static file loads"),
		fileErrors:    counter("file_cache_load_errors_total", "Failed static file loads"),
		fileEvictions: counter("file_cache_evictions_total", "Static files evicted by maintenance"),
		fileCapacity:  gauge("file_cache_capacity", "Current file cache capacity"),
		fileLoaded:    gauge("file_cache_loaded", "Loaded static files"),

		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tick_duration_seconds",
			Help:        "Duration of the per-second maintenance pass",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"worker"}),
	}
}

// WorkerCounters accumulates one worker's events between flushes.
type WorkerCounters struct {
	// Responses indexed by status class: [2] is 2xx, [5] is 5xx.
	Responses     [6]uint64
	Malformed     uint64
	HandlerErrors uint64
	Accepted      uint64
	RouteHits     uint64
	RouteMisses   uint64
}

// CountResponse records a response status code.
func (c *WorkerCounters) CountResponse(code int) {
	class := code / 100
	if class < 1 || class > 5 {
		class = 0
	}
	c.Responses[class]++
}

// Gauges are point-in-time values sampled at flush.
type Gauges struct {
	Connections  int
	RouteEntries int
	FileCapacity int
	FileLoaded   int
}

// FileTotals are the file cache's cumulative counters.
type FileTotals struct {
	Requests  uint64
	Loads     uint64
	Errors    uint64
	Evictions uint64
}

// WorkerMetrics is one worker's view of Metrics with its label resolved.
type WorkerMetrics struct {
	responses     [6]prometheus.Counter
	malformed     prometheus.Counter
	handlerErrors prometheus.Counter
	accepted      prometheus.Counter
	connections   prometheus.Gauge

	routeHits   prometheus.Counter
	routeMisses prometheus.Counter
	routeSize   prometheus.Gauge

	fileRequests  prometheus.Counter
	fileLoads     prometheus.Counter
	fileErrors    prometheus.Counter
	fileEvictions prometheus.Counter
	fileCapacity  prometheus.Gauge
	fileLoaded    prometheus.Gauge

	tick prometheus.Observer

	lastFiles FileTotals
}

// Worker resolves the collectors for worker id.
func (m *Metrics) Worker(id int) *WorkerMetrics {
	w := strconv.Itoa(id)
	wm := &WorkerMetrics{
		malformed:     m.malformed.WithLabelValues(w),
		handlerErrors: m.handlerErrors.WithLabelValues(w),
		accepted:      m.accepted.WithLabelValues(w),
		connections:   m.connections.WithLabelValues(w),
		routeHits:     m.routeHits.WithLabelValues(w),
		routeMisses:   m.routeMisses.WithLabelValues(w),
		routeSize:     m.routeSize.WithLabelValues(w),
		fileRequests:  m.fileRequests.WithLabelValues(w),
		fileLoads:     m.fileLoads.WithLabelValues(w),
		fileErrors:    m.fileErrors.WithLabelValues(w),
		fileEvictions: m.fileEvictions.WithLabelValues(w),
		fileCapacity:  m.fileCapacity.WithLabelValues(w),
		fileLoaded:    m.fileLoaded.WithLabelValues(w),
		tick:          m.tickDuration.WithLabelValues(w),
	}
	for class := range wm.responses {
		label := "other"
		if class > 0 {
			label = strconv.Itoa(class) + "xx"
		}
		wm.responses[class] = m.requests.WithLabelValues(w, label)
	}
	return wm
}

// Flush publishes and clears c, sets the gauges and adds the growth of
// the file cache totals since the previous flush.
func (wm *WorkerMetrics) Flush(c *WorkerCounters, g Gauges, files FileTotals, tick time.Duration) {
	for class, n := range c.Responses {
		if n > 0 {
			wm.responses[class].Add(float64(n))
		}
	}
	addIf(wm.malformed, c.Malformed)
	addIf(wm.handlerErrors, c.HandlerErrors)
	addIf(wm.accepted, c.Accepted)
	addIf(wm.routeHits, c.RouteHits)
	addIf(wm.routeMisses, c.RouteMisses)
	*c = WorkerCounters{}

	addIf(wm.fileRequests, files.Requests-wm.lastFiles.Requests)
	addIf(wm.fileLoads, files.Loads-wm.lastFiles.Loads)
	addIf(wm.fileErrors, files.Errors-wm.lastFiles.Errors)
	addIf(wm.fileEvictions, files.Evictions-wm.lastFiles.Evictions)
	wm.lastFiles = files

	wm.connections.Set(float64(g.Connections))
	wm.routeSize.Set(float64(g.RouteEntries))
	wm.fileCapacity.Set(float64(g.FileCapacity))
	wm.fileLoaded.Set(float64(g.FileLoaded))

	wm.tick.Observe(tick.Seconds())
}

func addIf(c prometheus.Counter, n uint64) {
	if n > 0 {
		c.Add(float64(n))
	}
}

// WriteText renders every metric family of g in the text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// TextContentType is the content type of WriteText output.
const TextContentType = "text/plain; version=0.0.4; charset=utf-8"
