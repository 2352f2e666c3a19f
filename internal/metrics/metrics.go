// Package metrics exposes prometheus instrumentation for enrollment,
// authentication and classifier rebuilds. All methods are nil-safe.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the face authentication engine.
type Metrics struct {
	// Enrollment outcomes by result kind ("ok" or an error kind)
	Enrollments *prometheus.CounterVec

	// Authentication outcomes by result kind
	Authentications *prometheus.CounterVec

	// Best distance observed per authentication attempt with a candidate
	MatchDistance prometheus.Histogram

	// Classifier rebuilds by result ("ok", "empty", "error")
	ClassifierRebuilds *prometheus.CounterVec

	// Duration of a full classifier rebuild
	RebuildLatency prometheus.Histogram

	// Whether the classifier vote agreed with the matcher on accepted logins
	ClassifierAgreement *prometheus.CounterVec

	// Face extraction latency per image
	ExtractLatency prometheus.Histogram
}

// New creates a Metrics instance registered on reg. A nil reg uses the
// default prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Enrollments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faceauth_enrollments_total",
			Help: "Total enrollment attempts by result",
		}, []string{"result"}),

		Authentications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faceauth_authentications_total",
			Help: "Total authentication attempts by result",
		}, []string{"result"}),

		MatchDistance: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "faceauth_match_distance",
			Help:    "Best Euclidean distance found per authentication attempt",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 1, 1.5},
		}),

		ClassifierRebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faceauth_classifier_rebuilds_total",
			Help: "Total classifier rebuilds by result",
		}, []string{"result"}),

		RebuildLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "faceauth_classifier_rebuild_duration_seconds",
			Help:    "Duration of classifier rebuilds including persistence",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		ClassifierAgreement: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faceauth_classifier_agreement_total",
			Help: "Classifier cross-checks on accepted logins by agreement with the matcher",
		}, []string{"agreed"}),

		ExtractLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "faceauth_extract_duration_seconds",
			Help:    "Duration of a single face extraction call",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// IncrementEnrollment records an enrollment outcome.
func (m *Metrics) IncrementEnrollment(result string) {
	if m != nil {
		m.Enrollments.WithLabelValues(result).Inc()
	}
}

// IncrementAuthentication records an authentication outcome.
func (m *Metrics) IncrementAuthentication(result string) {
	if m != nil {
		m.Authentications.WithLabelValues(result).Inc()
	}
}

// ObserveMatchDistance records the best distance of an attempt.
func (m *Metrics) ObserveMatchDistance(d float64) {
	if m != nil {
		m.MatchDistance.Observe(d)
	}
}

// ObserveRebuild records a rebuild outcome and its duration.
func (m *Metrics) ObserveRebuild(result string, d time.Duration) {
	if m != nil {
		m.ClassifierRebuilds.WithLabelValues(result).Inc()
		m.RebuildLatency.Observe(d.Seconds())
	}
}

// IncrementAgreement records a classifier cross-check.
func (m *Metrics) IncrementAgreement(agreed bool) {
	if m != nil {
		label := "false"
		if agreed {
			label = "true"
		}
		m.ClassifierAgreement.WithLabelValues(label).Inc()
	}
}

// ObserveExtract records a single extraction duration.
func (m *Metrics) ObserveExtract(d time.Duration) {
	if m != nil {
		m.ExtractLatency.Observe(d.Seconds())
	}
}
