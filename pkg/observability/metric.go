package observability

// MetricType enumerates the measurement kinds the collector understands.
type MetricType string

const (
	// MetricCounter is a monotonically increasing value.
	MetricCounter MetricType = "counter"
	// MetricGauge is a point-in-time value that may move in either direction.
	MetricGauge MetricType = "gauge"
	// MetricHistogram records observations into configurable buckets.
	MetricHistogram MetricType = "histogram"
)

// Metric carries one measurement from a component to the collector.
type Metric struct {
	Name        string
	Type        MetricType
	Value       float64
	Labels      map[string]string
	Description string
	Unit        string
}

// MetricsCollector consumes metrics emitted by the daemon components.
type MetricsCollector interface {
	Collect(Metric)
}

// MetricsCollectorFunc adapts a function into a MetricsCollector.
type MetricsCollectorFunc func(Metric)

// Collect implements MetricsCollector.
func (f MetricsCollectorFunc) Collect(metric Metric) {
	f(metric)
}

// NoopCollector discards all metrics.
type NoopCollector struct{}

// Collect implements MetricsCollector.
func (NoopCollector) Collect(Metric) {}

var _ MetricsCollector = MetricsCollectorFunc(nil)
var _ MetricsCollector = NoopCollector{}
