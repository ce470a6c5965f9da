// Package metrics records analysis and question-answering counters in a
// Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/filingcheck/internal/schema"
)

const namespace = "filingcheck"

// Metrics holds the collectors. It implements analysis.Observer and
// answer.Observer.
type Metrics struct {
	registry  *prometheus.Registry
	documents *prometheus.CounterVec
	redFlags  *prometheus.CounterVec
	scores    prometheus.Histogram
	risk      prometheus.Histogram
	questions *prometheus.CounterVec
}

// New returns Metrics registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_analyzed_total",
			Help:      "Documents analyzed, by detected type and verdict.",
		}, []string{"type", "verdict"}),
		redFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "red_flags_total",
			Help:      "Red flags raised, by severity and category.",
		}, []string{"severity", "category"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compliance_score",
			Help:      "Overall compliance score of analyzed documents.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		risk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Red-flag risk score of analyzed documents.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		questions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_answered_total",
			Help:      "Questions answered, by whether the templated fallback was used.",
		}, []string{"fallback"}),
	}
	m.registry.MustRegister(m.documents, m.redFlags, m.scores, m.risk, m.questions)
	return m
}

// Observe records one document analysis record.
func (m *Metrics) Observe(rec schema.DocumentAnalysis) {
	m.documents.WithLabelValues(string(rec.Document.Type), string(rec.Report.Verdict)).Inc()
	if rec.Failed() {
		return
	}
	m.scores.Observe(rec.Report.OverallScore)
	m.risk.Observe(rec.Report.RiskScore)
	for _, f := range rec.Report.RedFlags {
		m.redFlags.WithLabelValues(string(f.Severity), string(f.Category)).Inc()
	}
}

// ObserveAnswer records one answered question.
func (m *Metrics) ObserveAnswer(a schema.Answer) {
	fallback := "false"
	if a.Fallback {
		fallback = "true"
	}
	m.questions.WithLabelValues(fallback).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path for the node exporter textfile
// collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
