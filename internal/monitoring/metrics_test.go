package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.RecordNavigation(OutcomeLoaded)
	m.RecordNavigation(OutcomeLoaded)
	m.RecordNavigation(OutcomeNotFound)
	m.SandboxLaunched()
	m.SandboxLaunched()
	m.SandboxDisposed()
	m.RecordRetrieval("relay", nil)
	m.RecordRetrieval("relay", errors.New("boom"))
	m.RecordEmbedFailure("image")
	m.RecordMessage("content", "ready")
	m.RecordFetch("virtual")
	m.ObservePipeline(3 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Navigations.WithLabelValues(OutcomeLoaded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Navigations.WithLabelValues(OutcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SandboxesActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SandboxesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retrievals.WithLabelValues("relay", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbedFailures.WithLabelValues("image")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues("content", "ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShimFetches.WithLabelValues("virtual")))
}

func TestMetricsIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.RecordNavigation(OutcomeLoaded)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Navigations.WithLabelValues(OutcomeLoaded)))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordNavigation(OutcomeLoaded)
		m.SandboxLaunched()
		m.SandboxDisposed()
		m.RecordRetrieval("tree", nil)
		m.RecordEmbedFailure("script")
		m.RecordMessage("host", "sendFile")
		m.RecordFetch("network")
		m.ObservePipeline(time.Second)
	})
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordNavigation(OutcomeLoaded)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vsite_navigations_total{outcome="loaded"} 1`)
}
