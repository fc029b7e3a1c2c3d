package metrics

import "github.com/prometheus/client_golang/prometheus"

// Lifecycle exposes counters for the request, selection and booking flows.
type Lifecycle struct {
	transitions   *prometheus.CounterVec
	penalties     *prometheus.CounterVec
	gateChecks    *prometheus.CounterVec
	notifications *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func NewLifecycle(reg prometheus.Registerer) *Lifecycle {
	m := &Lifecycle{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locum",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		penalties: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locum",
			Subsystem: "cancellation",
			Name:      "penalties_total",
			Help:      "Cancellation penalties recorded by cancelling party and tier",
		}, []string{"party", "tier"}),
		gateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locum",
			Subsystem: "payment",
			Name:      "gate_checks_total",
			Help:      "Payment method gate checks by result",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locum",
			Subsystem: "notify",
			Name:      "published_total",
			Help:      "Notification publications by event type and status",
		}, []string{"event_type", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "locum",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.penalties, m.gateChecks, m.notifications, m.httpDuration)
	return m
}

// ObserveTransition records one lifecycle operation; a nil err counts as ok.
func (m *Lifecycle) ObserveTransition(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

func (m *Lifecycle) ObservePenalty(party, tier string) {
	if m == nil {
		return
	}
	m.penalties.WithLabelValues(party, tier).Inc()
}

func (m *Lifecycle) ObserveGate(passed bool) {
	if m == nil {
		return
	}
	result := "missing"
	if passed {
		result = "passed"
	}
	m.gateChecks.WithLabelValues(result).Inc()
}

func (m *Lifecycle) ObserveNotification(eventType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.notifications.WithLabelValues(eventType, status).Inc()
}

func (m *Lifecycle) ObserveHTTP(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, status).Observe(seconds)
}
