package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TurnFinished(OutcomeCompleted)
		m.TokenStreamed()
		m.RefreshFinished(1, 0, time.Second)
		m.SetActiveSessions(3)
		assert.NoError(t, m.RegisterDegraded("redis", func() bool { return true }))
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.TurnFinished(OutcomeCompleted)
	m.TurnFinished(OutcomeCompleted)
	m.TurnFinished(OutcomeFailed)
	m.TokenStreamed()
	m.RefreshFinished(12, 2, 3*time.Second)
	m.SetActiveSessions(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokens))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.ingestedChunks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.failedChunks))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.activeSessions))
}

func TestHandlerExposesDegraded(t *testing.T) {
	m := New()
	degraded := true
	require.NoError(t, m.RegisterDegraded("embedding", func() bool { return degraded }))
	assert.Error(t, m.RegisterDegraded("embedding", func() bool { return false }), "duplicate dependency")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `newsrag_degraded{dependency="embedding"} 1`))
}
