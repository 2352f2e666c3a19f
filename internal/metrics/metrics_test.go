package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementEnrollment("ok")
	m.IncrementEnrollment("ok")
	m.IncrementAuthentication("not_recognized")
	m.IncrementAgreement(true)
	m.IncrementAgreement(false)
	m.ObserveRebuild("error", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Enrollments.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Authentications.WithLabelValues("not_recognized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierAgreement.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierAgreement.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierRebuilds.WithLabelValues("error")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncrementEnrollment("ok")
		m.IncrementAuthentication("ok")
		m.ObserveMatchDistance(0.3)
		m.ObserveRebuild("ok", time.Second)
		m.IncrementAgreement(true)
		m.ObserveExtract(time.Millisecond)
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
