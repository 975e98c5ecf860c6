package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the recorder.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	buffersReceivedTotal *prometheus.CounterVec
	buffersDroppedTotal  *prometheus.CounterVec
	buffersWrittenTotal  *prometheus.CounterVec
	sessionsStartedTotal prometheus.Counter
	sessionsFailedTotal  *prometheus.CounterVec
	activeRecordings     prometheus.Gauge
	actionsTotal         *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the recorder.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	buffersReceivedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_buffers_received_total",
		Help: "Buffers delivered by capture sources, by kind",
	}, []string{"kind"})
	buffersDroppedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_buffers_dropped_total",
		Help: "Buffers discarded before reaching the container, by kind and reason",
	}, []string{"kind", "reason"})
	buffersWrittenTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_buffers_written_total",
		Help: "Buffers appended to a container track, by kind",
	}, []string{"kind"})
	sessionsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_sessions_started_total",
		Help: "Total number of capture sessions that reached running",
	})
	sessionsFailedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_sessions_failed_total",
		Help: "Session-level failures, by error code",
	}, []string{"code"})
	activeRecordings := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_active_recordings",
		Help: "Number of recordings currently capturing",
	})

	actionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_actions_total",
		Help: "Control actions applied through the API, by action",
	}, []string{"action"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		buffersReceivedTotal,
		buffersDroppedTotal,
		buffersWrittenTotal,
		sessionsStartedTotal,
		sessionsFailedTotal,
		activeRecordings,
		actionsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		errorsTotal:          errorsTotal,
		buffersReceivedTotal: buffersReceivedTotal,
		buffersDroppedTotal:  buffersDroppedTotal,
		buffersWrittenTotal:  buffersWrittenTotal,
		sessionsStartedTotal: sessionsStartedTotal,
		sessionsFailedTotal:  sessionsFailedTotal,
		activeRecordings:     activeRecordings,
		actionsTotal:         actionsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncBuffersReceived counts a buffer accepted from a capture source.
func (m *Metrics) IncBuffersReceived(kind string) {
	if m == nil {
		return
	}
	m.buffersReceivedTotal.WithLabelValues(kind).Inc()
}

// IncBuffersDropped counts a buffer discarded for reason.
func (m *Metrics) IncBuffersDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.buffersDroppedTotal.WithLabelValues(kind, reason).Inc()
}

// IncBuffersWritten counts a buffer appended to a track.
func (m *Metrics) IncBuffersWritten(kind string) {
	if m == nil {
		return
	}
	m.buffersWrittenTotal.WithLabelValues(kind).Inc()
}

// IncSessionsStarted counts a capture session that reached running.
func (m *Metrics) IncSessionsStarted() {
	if m == nil {
		return
	}
	m.sessionsStartedTotal.Inc()
}

// IncSessionsFailed counts a session-level failure.
func (m *Metrics) IncSessionsFailed(code string) {
	if m == nil {
		return
	}
	m.sessionsFailedTotal.WithLabelValues(code).Inc()
}

// SetActiveRecordings sets the active recordings gauge.
func (m *Metrics) SetActiveRecordings(n int) {
	if m == nil {
		return
	}
	m.activeRecordings.Set(float64(n))
}

// IncActions counts a control action applied through the API.
func (m *Metrics) IncActions(action string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(action).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
