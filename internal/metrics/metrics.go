// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdss_http_requests_total",
		Help: "Total HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdss_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	factsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdss_facts_recorded_total",
		Help: "Facts appended to the store by kind (new, correction).",
	}, []string{"kind"})

	factsRetracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cdss_facts_retracted_total",
		Help: "Facts retracted from the store.",
	})

	classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdss_classifications_total",
		Help: "State derivations by state type.",
	}, []string{"state"})

	recommendationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdss_recommendations_total",
		Help: "Treatment lookups by outcome.",
	}, []string{"outcome"})

	knowledgeEdits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdss_knowledge_edits_total",
		Help: "Knowledge base edits by section.",
	}, []string{"section"})
)

// RecordRequest counts one HTTP request and its latency.
func RecordRequest(method, route, status string, seconds float64) {
	requestsTotal.WithLabelValues(method, route, status).Inc()
	requestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordFact counts one appended fact. kind is "new" or "correction".
func RecordFact(kind string) {
	factsRecorded.WithLabelValues(kind).Inc()
}

// RecordRetraction counts one retracted fact.
func RecordRetraction() {
	factsRetracted.Inc()
}

// RecordClassification counts one state derivation.
func RecordClassification(state string) {
	classificationsTotal.WithLabelValues(state).Inc()
}

// RecordRecommendation counts one treatment lookup by outcome kind.
func RecordRecommendation(outcome string) {
	recommendationsTotal.WithLabelValues(outcome).Inc()
}

// RecordKnowledgeEdit counts one knowledge base edit.
func RecordKnowledgeEdit(section string) {
	knowledgeEdits.WithLabelValues(section).Inc()
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
