package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors on a private registry so
// tests can construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	Queries        prometheus.Counter
	Escalations    prometheus.Counter
	Clarifications prometheus.Counter
	Summarizations prometheus.Counter
	StageHeavy     *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Queries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "querypilot_queries_total",
			Help: "Queries processed by the pipeline.",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "querypilot_escalations_total",
			Help: "Queries that escalated to the heavy backend during understanding.",
		}),
		Clarifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "querypilot_clarifications_total",
			Help: "Queries answered with clarifying questions instead of an answer.",
		}),
		Summarizations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "querypilot_summarizations_total",
			Help: "Session compactions performed.",
		}),
		StageHeavy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "querypilot_stage_model_calls_total",
			Help: "Model calls per pipeline stage.",
		}, []string{"stage"}),
	}
	registry.MustRegister(m.Queries, m.Escalations, m.Clarifications, m.Summarizations, m.StageHeavy)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
