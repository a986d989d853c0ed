package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StageQueueWait     = "queue_wait"
	StageFirstFragment = "first_fragment"
	StageTotal         = "total"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	QueueDepth      prometheus.Gauge
	QueueProcessing prometheus.Gauge
	Enqueues        *prometheus.CounterVec
	Admissions      prometheus.Counter
	Retirements     *prometheus.CounterVec
	PositionNotices prometheus.Counter
	Fragments       prometheus.Counter
	PageOps         *prometheus.CounterVec
	BackendErrors   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec

	QueueWait       prometheus.Histogram
	FirstFragment   prometheus.Histogram
	RequestDuration prometheus.Histogram

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Requests currently waiting or processing.",
		}),
		QueueProcessing: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_processing",
			Help:      "Requests currently holding an inference slot.",
		}),
		Enqueues: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueues_total",
			Help:      "Enqueue attempts by result.",
		}, []string{"result"}),
		Admissions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Requests admitted to the inference backend.",
		}),
		Retirements: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retirements_total",
			Help:      "Requests retired from the queue by outcome.",
		}, []string{"outcome"}),
		PositionNotices: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_notices_total",
			Help:      "Queue position updates sent to waiting requesters.",
		}),
		Fragments: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Non-empty text fragments received from the backend.",
		}),
		PageOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_ops_total",
			Help:      "Page publish/update operations sent to the notification sink.",
		}, []string{"op"}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Inference stream failures by backend.",
		}, []string{"backend"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Websocket event writes by event type and result.",
		}, []string{"type", "result"}),
		QueueWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_ms",
			Help:      "Time from enqueue to admission in milliseconds.",
			Buckets:   []float64{10, 100, 500, 1000, 3000, 10000, 30000, 120000},
		}),
		FirstFragment: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_fragment_ms",
			Help:      "Time from admission to the first backend fragment in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000},
		}),
		RequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_ms",
			Help:      "Time from admission to retirement in milliseconds.",
			Buckets:   []float64{1000, 5000, 15000, 30000, 60000, 120000, 300000},
		}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveAdmission(wait time.Duration) {
	m.Admissions.Inc()
	m.QueueWait.Observe(float64(wait.Milliseconds()))
	m.window.Observe(StageQueueWait, wait)
}

func (m *Metrics) ObserveFirstFragment(d time.Duration) {
	m.FirstFragment.Observe(float64(d.Milliseconds()))
	m.window.Observe(StageFirstFragment, d)
}

func (m *Metrics) ObserveRetirement(outcome string, d time.Duration) {
	m.Retirements.WithLabelValues(outcome).Inc()
	m.RequestDuration.Observe(float64(d.Milliseconds()))
	m.window.Observe(StageTotal, d)
}

func (m *Metrics) SetQueueGauges(depth, processing int) {
	m.QueueDepth.Set(float64(depth))
	m.QueueProcessing.Set(float64(processing))
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
