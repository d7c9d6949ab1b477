package observability

import (
	"strconv"
	"time"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the call-handling core.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	ackDuration      prometheus.Histogram
	events           *prometheus.CounterVec
	sessionsCreated  prometheus.Counter
	poolAssignments  *prometheus.CounterVec
	storeConflicts   prometheus.Counter
	toolCalls        *prometheus.CounterVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	detachedFailures *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "receptionist_request_duration_seconds",
				Help:    "Duration of operations by name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ackDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "receptionist_webhook_ack_seconds",
				Help:    "Time from webhook receipt to acknowledgment.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receptionist_events_total",
				Help: "Inbound events by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		sessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "receptionist_sessions_created_total",
				Help: "Sessions created.",
			},
		),
		poolAssignments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receptionist_pool_assignments_total",
				Help: "Connection pool assignments by index.",
			},
			[]string{"index"},
		),
		storeConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "receptionist_store_conflicts_total",
				Help: "Session store version conflicts.",
			},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receptionist_tool_calls_total",
				Help: "Tool executions by tool and status.",
			},
			[]string{"tool", "status"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receptionist_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receptionist_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receptionist_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		detachedFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receptionist_detached_failures_total",
				Help: "Failures on the post-acknowledgment path, by stage.",
			},
			[]string{"stage"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordAck records acknowledgment latency.
func (m *Metrics) RecordAck(d time.Duration) {
	m.ackDuration.Observe(d.Seconds())
}

// IncrEvent counts an inbound event outcome: accepted, rejected, ignored,
// duplicate, noop, failed.
func (m *Metrics) IncrEvent(eventType, outcome string) {
	m.events.WithLabelValues(eventType, outcome).Inc()
}

// IncrSessionCreated counts a new session.
func (m *Metrics) IncrSessionCreated() {
	m.sessionsCreated.Inc()
}

// IncrPoolAssignment counts an assignment to a pool index.
func (m *Metrics) IncrPoolAssignment(index int) {
	m.poolAssignments.WithLabelValues(strconv.Itoa(index)).Inc()
}

// IncrStoreConflict counts a version conflict.
func (m *Metrics) IncrStoreConflict() {
	m.storeConflicts.Inc()
}

// IncrToolCall counts a tool execution.
func (m *Metrics) IncrToolCall(tool, status string) {
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// ExternalErrors returns the failures recorded for service so far.
func (m *Metrics) ExternalErrors(service string) int64 {
	return int64(sumCounterVec(m.externalErrors, "service", service))
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrDetachedFailure counts a failure reported out-of-band.
func (m *Metrics) IncrDetachedFailure(stage string) {
	m.detachedFailures.WithLabelValues(stage).Inc()
}

// GetCallSnapshot returns a snapshot of call-handling metrics suitable for
// the GET /v1/metrics/calls endpoint.
func (m *Metrics) GetCallSnapshot() *domain.CallMetrics {
	accepted := sumCounterVec(m.events, "outcome", "accepted")
	rejected := sumCounterVec(m.events, "outcome", "rejected")
	ignored := sumCounterVec(m.events, "outcome", "ignored")
	toolOK := sumCounterVec(m.toolCalls, "status", "ok")
	toolErr := sumCounterVec(m.toolCalls, "status", "error")
	hits := sumCounterVec(m.cacheHits, "", "")
	misses := sumCounterVec(m.cacheMisses, "", "")

	toolErrorRate := float64(0)
	if toolOK+toolErr > 0 {
		toolErrorRate = toolErr / (toolOK + toolErr)
	}
	cacheHitRate := float64(0)
	if hits+misses > 0 {
		cacheHitRate = hits / (hits + misses)
	}

	return &domain.CallMetrics{
		EventsAccepted:   int64(accepted),
		EventsRejected:   int64(rejected),
		EventsIgnored:    int64(ignored),
		SessionsCreated:  int64(counterValue(m.sessionsCreated)),
		ToolCalls:        int64(toolOK + toolErr),
		ToolErrorRate:    toolErrorRate,
		StoreConflicts:   int64(counterValue(m.storeConflicts)),
		DetachedFailures: int64(sumCounterVec(m.detachedFailures, "", "")),
		CacheHitRate:     cacheHitRate,
		Period:           "all_time",
	}
}

// counterValue extracts the current float64 value from a counter.
func counterValue(c prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec sums every series of cv whose label matches value. An empty
// label sums all series.
func sumCounterVec(cv *prometheus.CounterVec, label, value string) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil {
			continue
		}
		if label != "" && !hasLabel(m, label, value) {
			continue
		}
		if m.Counter != nil && m.Counter.Value != nil {
			total += *m.Counter.Value
		}
	}
	return total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
