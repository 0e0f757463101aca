package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "letter_dispatch"

// Metrics stores Prometheus collectors used by the API, the queue processor
// and the rule engine.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	dispatchOutcomesTotal *prometheus.CounterVec
	dispatchDuration      *prometheus.HistogramVec
	dispatchInflight      *prometheus.GaugeVec
	retryScheduledTotal   *prometheus.CounterVec
	staleReclaimedTotal   prometheus.Counter
	queueBacklog          prometheus.Gauge
	ruleFiringsTotal      *prometheus.CounterVec
	alertActionFailures   *prometheus.CounterVec
	loopErrorsTotal       *prometheus.CounterVec
	bulkRetryResetsTotal  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_outcomes_total",
				Help:      "Dispatch attempts grouped by channel and outcome (submitted, confirmed, retry, failed).",
			},
			[]string{"channel", "outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Channel adapter call duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		dispatchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight dispatches grouped by channel.",
			},
			[]string{"channel"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_scheduled_total",
				Help:      "Total number of submissions scheduled for a backoff retry.",
			},
			[]string{"channel"},
		),
		staleReclaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_reclaimed_total",
				Help:      "Submissions moved from a stale processing state back to pending.",
			},
		),
		queueBacklog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_backlog",
				Help:      "Submissions pending or processing as of the last queue tick.",
			},
		),
		ruleFiringsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_firings_total",
				Help:      "Notification rule firings grouped by rule type and severity.",
			},
			[]string{"type", "severity"},
		),
		alertActionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alert_action_failures_total",
				Help:      "Failed notification actions grouped by action kind.",
			},
			[]string{"action"},
		),
		loopErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_errors_total",
				Help:      "Errors raised by a periodic loop tick grouped by loop.",
			},
			[]string{"loop"},
		),
		bulkRetryResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bulk_retry_resets_total",
				Help:      "Operator bulk retry resets grouped by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchOutcomesTotal,
		m.dispatchDuration,
		m.dispatchInflight,
		m.retryScheduledTotal,
		m.staleReclaimedTotal,
		m.queueBacklog,
		m.ruleFiringsTotal,
		m.alertActionFailures,
		m.loopErrorsTotal,
		m.bulkRetryResetsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDispatchOutcome(channel string, outcome string) {
	if m == nil {
		return
	}
	m.dispatchOutcomesTotal.WithLabelValues(normalizeLabel(channel), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveDispatchDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.dispatchDuration.WithLabelValues(normalizeLabel(channel)).Observe(seconds)
}

func (m *Metrics) IncDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) DecDispatchInFlight(channel string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(channel)).Dec()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *Metrics) AddStaleReclaimed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.staleReclaimedTotal.Add(float64(n))
}

func (m *Metrics) SetQueueBacklog(n int64) {
	if m == nil {
		return
	}
	m.queueBacklog.Set(float64(n))
}

func (m *Metrics) IncRuleFired(ruleType string, severity string) {
	if m == nil {
		return
	}
	m.ruleFiringsTotal.WithLabelValues(normalizeLabel(ruleType), normalizeLabel(severity)).Inc()
}

func (m *Metrics) IncAlertActionFailure(action string) {
	if m == nil {
		return
	}
	m.alertActionFailures.WithLabelValues(normalizeLabel(action)).Inc()
}

func (m *Metrics) IncLoopError(loop string) {
	if m == nil {
		return
	}
	m.loopErrorsTotal.WithLabelValues(normalizeLabel(loop)).Inc()
}

func (m *Metrics) IncBulkRetryReset(result string) {
	if m == nil {
		return
	}
	m.bulkRetryResetsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
