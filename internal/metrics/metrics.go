package metrics

import (
	"net/http"
	"time"

	"github.com/kirillm/riskgate/internal/audit"
	"github.com/kirillm/riskgate/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics счетчики процесса. Nil *Metrics допустим и ничего не делает.
type Metrics struct {
	registry *prometheus.Registry

	decisions        *prometheus.CounterVec
	lockEvents       *prometheus.CounterVec
	auditFailures    prometheus.Counter
	executionLatency prometheus.Histogram
	slippage         prometheus.Histogram
	cycleDuration    *prometheus.HistogramVec
	cycleErrors      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskgate_decisions_total",
			Help: "Trade intents by final lifecycle state and reason code.",
		}, []string{"state", "reason_code"}),
		lockEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskgate_lock_events_total",
			Help: "Lock triggers and releases.",
		}, []string{"kind", "event", "level"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskgate_audit_integrity_failures_total",
			Help: "Executed trades whose audit record could not be verified.",
		}),
		executionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskgate_execution_latency_seconds",
			Help:    "Order execution latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		slippage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskgate_execution_slippage_ratio",
			Help:    "Adverse slippage of fills as a fraction of expected price.",
			Buckets: prometheus.LinearBuckets(-0.005, 0.001, 16),
		}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskgate_cycle_duration_seconds",
			Help:    "Scheduler cycle duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cycle"}),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskgate_cycle_errors_total",
			Help: "Tenant failures inside scheduler cycles.",
		}, []string{"cycle"}),
	}

	m.registry.MustRegister(
		m.decisions,
		m.lockEvents,
		m.auditFailures,
		m.executionLatency,
		m.slippage,
		m.cycleDuration,
		m.cycleErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler экспозиция для /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDecision(rec *domain.ExecutionRecord) {
	if m == nil || rec == nil {
		return
	}
	m.decisions.WithLabelValues(string(rec.State), string(rec.ReasonCode)).Inc()
	if rec.Fill != nil && rec.Fill.Price > 0 {
		m.executionLatency.Observe(float64(rec.Fill.LatencyMs) / 1000)
		m.slippage.Observe(rec.Fill.SlippagePct)
	}
}

// NotifyLock реализует lock.Notifier
func (m *Metrics) NotifyLock(ev audit.LockEvent) {
	if m == nil {
		return
	}
	m.lockEvents.WithLabelValues(string(ev.Kind), ev.Event, ev.Level).Inc()
}

func (m *Metrics) AuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) ObserveCycle(cycle string, d time.Duration, failures int) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(cycle).Observe(d.Seconds())
	if failures > 0 {
		m.cycleErrors.WithLabelValues(cycle).Add(float64(failures))
	}
}
