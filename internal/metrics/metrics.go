package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "arena"

// Registry holds all Prometheus metrics. It satisfies the recorder
// interfaces of the cache, the batch orchestrator and the live manager.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Business metrics
	backtestsTotal   *prometheus.CounterVec
	backtestDuration prometheus.Histogram
	batchSymbols     *prometheus.CounterVec
	cacheRequests    *prometheus.CounterVec
	liveTicks        *prometheus.CounterVec
	liveTickDuration *prometheus.HistogramVec
	transitions      *prometheus.CounterVec
	brokerActive     prometheus.Gauge
	notifications    *prometheus.CounterVec
	jobsActive       *prometheus.GaugeVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	// Business metrics
	r.backtestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backtests_total",
			Help:      "Total number of single-symbol backtests run",
		},
		[]string{"strategy"},
	)
	r.backtestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backtest_duration_seconds",
			Help:      "Single-symbol backtest duration in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
	r.batchSymbols = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_symbols_total",
			Help:      "Symbols processed by batch runs",
		},
		[]string{"status"},
	)
	r.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bar_cache_requests_total",
			Help:      "Bar cache lookups by outcome",
		},
		[]string{"result"},
	)
	r.liveTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_ticks_total",
			Help:      "Live session ticks by mode and outcome",
		},
		[]string{"mode", "status"},
	)
	r.liveTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_tick_duration_seconds",
			Help:      "Live session tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	r.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_transitions_total",
			Help:      "Live position transitions by log level",
		},
		[]string{"level"},
	)
	r.brokerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_active",
			Help:      "1 when the broker was reachable at the last check",
		},
	)
	r.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications sent by notifier and outcome",
		},
		[]string{"notifier", "status"},
	)
	r.jobsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of running jobs",
		},
		[]string{"type"},
	)

	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.batchSymbols)
	reg.MustRegister(r.cacheRequests)
	reg.MustRegister(r.liveTicks)
	reg.MustRegister(r.liveTickDuration)
	reg.MustRegister(r.transitions)
	reg.MustRegister(r.brokerActive)
	reg.MustRegister(r.notifications)
	reg.MustRegister(r.jobsActive)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	r.httpRequestsTotal.WithLabelValues(method, path, statusToString(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// ObserveBacktest records one single-symbol run.
func (r *Registry) ObserveBacktest(strategy string, took time.Duration) {
	r.backtestsTotal.WithLabelValues(strategy).Inc()
	r.backtestDuration.Observe(took.Seconds())
}

// ObserveBatchSymbol counts a batch symbol as "ok" or "skipped".
func (r *Registry) ObserveBatchSymbol(status string) {
	r.batchSymbols.WithLabelValues(status).Inc()
}

// ObserveCache counts a cache outcome.
func (r *Registry) ObserveCache(result string) {
	r.cacheRequests.WithLabelValues(result).Inc()
}

// ObserveTick records a live tick.
func (r *Registry) ObserveTick(mode string, took time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.liveTicks.WithLabelValues(mode, status).Inc()
	r.liveTickDuration.WithLabelValues(mode).Observe(took.Seconds())
}

// ObserveTransition counts a position transition by its log level.
func (r *Registry) ObserveTransition(level string) {
	r.transitions.WithLabelValues(level).Inc()
}

// SetBrokerActive sets the broker reachability gauge.
func (r *Registry) SetBrokerActive(active bool) {
	if active {
		r.brokerActive.Set(1)
		return
	}
	r.brokerActive.Set(0)
}

// RecordNotification counts a notifier delivery.
func (r *Registry) RecordNotification(notifier, status string) {
	r.notifications.WithLabelValues(notifier, status).Inc()
}

// JobStarted and JobFinished track running jobs of a type.
func (r *Registry) JobStarted(jobType string) {
	r.jobsActive.WithLabelValues(jobType).Inc()
}

func (r *Registry) JobFinished(jobType string) {
	r.jobsActive.WithLabelValues(jobType).Dec()
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
