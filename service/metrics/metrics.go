package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec

	// Submission Metrics
	submissionsTotal          *prometheus.CounterVec
	submissionSizeBytes       *prometheus.HistogramVec
	confirmationDuration      *prometheus.HistogramVec
	confirmationPolls         *prometheus.HistogramVec
	postSubmitCallbackFailure *prometheus.CounterVec

	// Await Metrics
	awaitsTotal         *prometheus.CounterVec
	awaitDuration       *prometheus.HistogramVec
	awaitNotifications  *prometheus.HistogramVec
	activeSubscriptions *prometheus.GaugeVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec

	// Temporal Metrics
	activityDuration *prometheus.HistogramVec
	activityOutcomes *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Submission Metrics
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_submissions_total",
				Help: "Total number of transaction submissions by payer signer kind and outcome",
			},
			[]string{"signer_kind", "outcome"},
		),
		submissionSizeBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_submission_size_bytes",
				Help:    "Serialized size of submitted transactions",
				Buckets: []float64{128, 256, 512, 768, 1024, 1232},
			},
			[]string{"version"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_duration_seconds",
				Help:    "Time from broadcast to a terminal confirmation result",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 90},
			},
			[]string{"commitment", "outcome"},
		),
		confirmationPolls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_polls",
				Help:    "Number of signature status polls per confirmation",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 200},
			},
			[]string{"commitment"},
		),
		postSubmitCallbackFailure: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_post_submit_callback_failures_total",
				Help: "Total number of post-submit callbacks that returned an error or panicked",
			},
			[]string{"reason"},
		),

		// Await Metrics
		awaitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_awaits_total",
				Help: "Total number of account condition awaits by outcome",
			},
			[]string{"outcome"},
		),
		awaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "account_await_duration_seconds",
				Help:    "Duration of account condition awaits in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		awaitNotifications: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "account_await_notifications",
				Help:    "Number of account notifications received before an await finished",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
			},
			[]string{"outcome"},
		),
		activeSubscriptions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "account_subscriptions_active",
				Help: "Number of open account change subscriptions",
			},
			[]string{"source"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),

		// Temporal Metrics
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "temporal_activity_duration_seconds",
				Help:    "Duration of Temporal activity executions in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 5.0, 15.0, 30.0, 60.0, 120.0},
			},
			[]string{"activity"},
		),
		activityOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "temporal_activity_outcomes_total",
				Help: "Total number of Temporal activity executions by outcome",
			},
			[]string{"activity", "outcome"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections by stream kind",
			},
			[]string{"kind"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events relayed to clients",
			},
			[]string{"kind", "event"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Submission metric helpers

// RecordSubmission records the terminal outcome of a submission.
func (m *Metrics) RecordSubmission(signerKind, outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(signerKind, outcome).Inc()
}

// RecordSubmissionSize records the serialized size of a transaction.
func (m *Metrics) RecordSubmissionSize(version string, size int) {
	if m == nil {
		return
	}
	m.submissionSizeBytes.WithLabelValues(version).Observe(float64(size))
}

// RecordConfirmation records how long and how many polls a confirmation took.
func (m *Metrics) RecordConfirmation(commitment, outcome string, duration float64, polls int) {
	if m == nil {
		return
	}
	m.confirmationDuration.WithLabelValues(commitment, outcome).Observe(duration)
	m.confirmationPolls.WithLabelValues(commitment).Observe(float64(polls))
}

// RecordPostSubmitCallbackFailure records a failed post-submit callback.
func (m *Metrics) RecordPostSubmitCallbackFailure(reason string) {
	if m == nil {
		return
	}
	m.postSubmitCallbackFailure.WithLabelValues(reason).Inc()
}

// Await metric helpers

// RecordAwait records the outcome of an account condition await.
func (m *Metrics) RecordAwait(outcome string, duration float64, notifications int) {
	if m == nil {
		return
	}
	m.awaitsTotal.WithLabelValues(outcome).Inc()
	m.awaitDuration.WithLabelValues(outcome).Observe(duration)
	m.awaitNotifications.WithLabelValues(outcome).Observe(float64(notifications))
}

// RecordSubscriptionChange records a change in open subscription count.
func (m *Metrics) RecordSubscriptionChange(source string, delta float64) {
	if m == nil {
		return
	}
	m.activeSubscriptions.WithLabelValues(source).Add(delta)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Temporal metric helpers

// RecordActivity records a Temporal activity execution.
func (m *Metrics) RecordActivity(activity, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(activity).Observe(duration)
	m.activityOutcomes.WithLabelValues(activity, outcome).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(kind string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(kind).Add(delta)
}

// RecordSSEEventSent records an SSE event being relayed.
func (m *Metrics) RecordSSEEventSent(kind, event string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(kind, event).Inc()
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Timer is a helper for timing operations.
// Usage:
//
//	start := time.Now()
//	defer metrics.Timer(start, func(duration float64) {
//	    m.RecordSomething(duration)
//	})()
func Timer(start time.Time, recordFunc func(float64)) func() {
	return func() {
		recordFunc(time.Since(start).Seconds())
	}
}
