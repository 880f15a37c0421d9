package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TasksSubmitted   *prometheus.CounterVec
	TasksFinished    *prometheus.CounterVec
	AccountsFinished *prometheus.CounterVec
	ActiveWorkers    prometheus.Gauge
	WorkflowDuration *prometheus.HistogramVec
	WindowOps        *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	WSMessages       *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TasksSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Submitted tasks by task type.",
		}, []string{"task_type"}),
		TasksFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Finished tasks by terminal status.",
		}, []string{"status"}),
		AccountsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_finished_total",
			Help:      "Per-account outcomes by terminal status.",
		}, []string{"status"}),
		ActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently executing account workflows.",
		}),
		WorkflowDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Single workflow execution time by workflow type and outcome.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"workflow", "outcome"}),
		WindowOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_operations_total",
			Help:      "Window lifecycle operations by kind (reuse, create, evict, delete).",
		}, []string{"op"}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Progress events dropped on saturated subscribers.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

func (m *Metrics) ObserveWorkflow(workflow string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.WorkflowDuration.WithLabelValues(workflow, outcome).Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
