package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Instance metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "minepanel_instances_total",
			Help: "Total number of managed instances by status",
		},
		[]string{"status"},
	)

	RetainedInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minepanel_retained_instances",
			Help: "Number of deleted instances whose data is still retained",
		},
	)

	// Provisioning metrics
	DeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minepanel_deploys_total",
			Help: "Total number of deploy runs by result",
		},
		[]string{"result"},
	)

	DeployDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "minepanel_deploy_duration_seconds",
			Help:    "Time from deploy acceptance to terminal event in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	ImagePullsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minepanel_image_pulls_total",
			Help: "Total number of image pulls by result",
		},
		[]string{"result"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minepanel_lifecycle_actions_total",
			Help: "Total number of lifecycle actions by action and result",
		},
		[]string{"action", "result"},
	)

	// Session metrics
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minepanel_logins_total",
			Help: "Total number of login attempts by result",
		},
		[]string{"result"},
	)

	// Streaming metrics
	EventSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minepanel_event_subscribers",
			Help: "Number of connected progress observers",
		},
	)

	ConsoleSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minepanel_console_sessions",
			Help: "Number of open console relay sessions",
		},
	)

	ConsoleCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minepanel_console_commands_total",
			Help: "Total number of console commands by result",
		},
		[]string{"result"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "minepanel_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "minepanel_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	ReconciliationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "minepanel_reconciliation_errors_total",
			Help: "Total number of failed reconciliation cycles",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minepanel_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minepanel_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(RetainedInstances)
	prometheus.MustRegister(DeploysTotal)
	prometheus.MustRegister(DeployDuration)
	prometheus.MustRegister(ImagePullsTotal)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(LoginsTotal)
	prometheus.MustRegister(EventSubscribers)
	prometheus.MustRegister(ConsoleSessions)
	prometheus.MustRegister(ConsoleCommandsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationErrorsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in a labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
