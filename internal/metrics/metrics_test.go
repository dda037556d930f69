package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveAction("model", false)
	m.ObserveAction("fallback", true)
	m.ObserveAction("fallback", false)
	m.ObserveEpisode(1, 0.5)
	m.ObserveEpisode(0, 1)
	m.SetActiveContexts(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("model")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelFailuresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EpisodesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EpisodesTotal.WithLabelValues("failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveContexts))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveAction("model", true)
	m.ObserveEpisode(1, 1)
	m.SetActiveContexts(1)
}

func TestHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveAction("retry", false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `whiteagent_actions_total{source="retry"} 1`))
}
