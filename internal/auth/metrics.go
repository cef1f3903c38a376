package auth

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts auth events by outcome. A nil *Metrics records nothing.
type Metrics struct {
	events      *prometheus.CounterVec
	rateLimited prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finora",
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Auth operations by event and outcome.",
		}, []string{"event", "outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finora",
			Subsystem: "auth",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the auth rate limiter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.rateLimited)
	}
	return m
}

// Observe records event with an outcome derived from err.
func (m *Metrics) Observe(event string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = strings.ToLower(Describe(err).Code)
	}
	m.events.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) rateLimitHit() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
