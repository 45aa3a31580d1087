package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deepchat"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions   prometheus.Gauge
	sessionEvictions *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec

	searchTotal    *prometheus.CounterVec
	searchAttempts *prometheus.CounterVec
	searchDuration prometheus.Histogram

	agentInvocations  *prometheus.CounterVec
	agentDuration     *prometheus.HistogramVec
	modelCallsTotal   *prometheus.CounterVec
	modelCallRetries  *prometheus.CounterVec
	streamEventsTotal *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_size",
					Help:      "Tasks waiting or running in the agent queue.",
				},
				[]string{"queue"},
			),
			enqueueTotal: counterVec("enqueue_total", "Total enqueue operations by queue.", "queue"),
			dequeueTotal: counterVec("dequeue_total", "Total completed tasks by queue and status.", "queue", "status"),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Queued task execution duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"queue"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Sessions currently held in memory.",
				},
			),
			sessionEvictions: counterVec("session_evictions_total", "Sessions removed by reason.", "reason"),
			requestsTotal:    counterVec("requests_total", "Chat requests by mode.", "mode"),
			searchTotal:      counterVec("search_requests_total", "Search invocations by outcome.", "outcome"),
			searchAttempts:   counterVec("search_attempts_total", "Individual search provider calls by status.", "status"),
			searchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "search_duration_seconds",
					Help:      "Search invocation duration in seconds, retries included.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			agentInvocations: counterVec("agent_invocations_total", "Agent invocations by agent type and status.", "agent_type", "status"),
			agentDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_invocation_duration_seconds",
					Help:      "Agent invocation duration in seconds.",
					Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"agent_type"},
			),
			modelCallsTotal:   counterVec("model_calls_total", "Model provider calls by provider and status.", "provider", "status"),
			modelCallRetries:  counterVec("model_call_retries_total", "Model call retries after transient failures.", "provider"),
			streamEventsTotal: counterVec("stream_events_total", "Stream events emitted by type.", "type"),
			httpRequestsTotal: counterVec("http_requests_total", "HTTP requests by route and status code.", "route", "code"),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.sessionEvictions,
			m.requestsTotal,
			m.searchTotal,
			m.searchAttempts,
			m.searchDuration,
			m.agentInvocations,
			m.agentDuration,
			m.modelCallsTotal,
			m.modelCallRetries,
			m.streamEventsTotal,
			m.httpRequestsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered registers every collector with the default registry.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(queue string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(queue).Inc()
	m.queueSize.WithLabelValues(queue).Set(float64(queueSize))
}

func RecordQueueCompletion(queue string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(queue, status(success)).Inc()
	m.taskDuration.WithLabelValues(queue).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(queue).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

// RecordSessionEvictions counts removed sessions; reason is expired, capacity, reset or clear.
func RecordSessionEvictions(reason string, n int) {
	if n <= 0 {
		return
	}
	getMetrics().sessionEvictions.WithLabelValues(reason).Add(float64(n))
}

// RecordRequest counts a chat request; mode is chat, stream or ws.
func RecordRequest(mode string) {
	getMetrics().requestsTotal.WithLabelValues(mode).Inc()
}

func RecordSearchAttempt(success bool) {
	getMetrics().searchAttempts.WithLabelValues(status(success)).Inc()
}

// RecordSearch records a finished search; outcome is found, empty or failed.
func RecordSearch(outcome string, duration time.Duration) {
	m := getMetrics()
	m.searchTotal.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(duration.Seconds())
}

// RecordAgentInvocation records a finished agent run; status is success, error or degraded.
func RecordAgentInvocation(agentType, status string, duration time.Duration) {
	m := getMetrics()
	m.agentInvocations.WithLabelValues(agentType, status).Inc()
	m.agentDuration.WithLabelValues(agentType).Observe(duration.Seconds())
}

func RecordModelCall(provider string, success bool) {
	getMetrics().modelCallsTotal.WithLabelValues(provider, status(success)).Inc()
}

func RecordModelRetry(provider string) {
	getMetrics().modelCallRetries.WithLabelValues(provider).Inc()
}

func RecordStreamEvent(eventType string) {
	getMetrics().streamEventsTotal.WithLabelValues(eventType).Inc()
}

func RecordHTTPRequest(route string, code int) {
	getMetrics().httpRequestsTotal.WithLabelValues(route, httpCode(code)).Inc()
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
