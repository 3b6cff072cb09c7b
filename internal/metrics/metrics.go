package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "interview"

// Metrics holds the Prometheus collectors for the service
type Metrics struct {
	SignalsTotal       *prometheus.CounterVec
	IncidentsTotal     *prometheus.CounterVec
	SuppressedTotal    *prometheus.CounterVec
	DuplicateEvents    prometheus.Counter
	InvalidEvents      prometheus.Counter
	AlertsTotal        *prometheus.CounterVec
	HoneypotHits       *prometheus.CounterVec
	SideEffectFailures *prometheus.CounterVec
	SessionTransitions *prometheus.CounterVec
	SessionsExpired    prometheus.Counter
	CodeBroadcasts     prometheus.Counter
	SSEConnections     prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
// so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SignalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Raw detection signals received, by signal type",
		}, []string{"type"}),
		IncidentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Incidents recorded, by kind and severity",
		}, []string{"kind", "severity"}),
		SuppressedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_suppressed_total",
			Help:      "Signals filtered by classification policy, by signal type",
		}, []string{"type"}),
		DuplicateEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Client events dropped because their event id was already seen",
		}),
		InvalidEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_invalid_total",
			Help:      "Client events rejected by schema validation",
		}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Real-time alerts published, by kind",
		}, []string{"kind"}),
		HoneypotHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "honeypot_hits_total",
			Help:      "Trap endpoint requests, by result",
		}, []string{"result"}),
		SideEffectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Best-effort operations that failed and were swallowed, by operation",
		}, []string{"op"}),
		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Lifecycle flags set, by flag",
		}, []string{"flag"}),
		SessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions ended by the expiry job",
		}),
		CodeBroadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_broadcasts_total",
			Help:      "Live code snapshots broadcast",
		}),
		SSEConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_connections",
			Help:      "Open live feed connections",
		}),
	}
}

// SideEffectFailed counts a swallowed failure of op
func (m *Metrics) SideEffectFailed(op string) {
	m.SideEffectFailures.WithLabelValues(op).Inc()
}
