package alerting

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "alert_engine"

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Cycles               prometheus.Counter
	CycleErrors          prometheus.Counter
	CycleDuration        prometheus.Histogram
	TenantErrors         prometheus.Counter
	Evaluations          *prometheus.CounterVec
	AlertsTriggered      *prometheus.CounterVec
	AlertsResolved       prometheus.Counter
	AlertsSuppressed     prometheus.Counter
	Escalations          prometheus.Counter
	Notifications        *prometheus.CounterVec
	TelemetryFetchErrors prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Evaluation cycles started.",
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycle_errors_total",
			Help:      "Evaluation cycles that failed or panicked.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of evaluation cycles.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		TenantErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tenant_errors_total",
			Help:      "Tenant evaluations that failed or panicked.",
		}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evaluations_total",
			Help:      "Rule evaluations per device by result.",
		}, []string{"result"}),
		AlertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_triggered_total",
			Help:      "Alert instances created.",
		}, []string{"severity"}),
		AlertsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_resolved_total",
			Help:      "Alert instances resolved automatically.",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_suppressed_total",
			Help:      "Triggers suppressed by cooldown.",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "escalations_total",
			Help:      "Escalation notifications dispatched.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Channel sends by outcome.",
		}, []string{"channel", "status"}),
		TelemetryFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "telemetry_fetch_errors_total",
			Help:      "Telemetry fetches that failed.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Cycles, m.CycleErrors, m.CycleDuration, m.TenantErrors,
		m.Evaluations, m.AlertsTriggered, m.AlertsResolved, m.AlertsSuppressed,
		m.Escalations, m.Notifications, m.TelemetryFetchErrors,
	}
}
