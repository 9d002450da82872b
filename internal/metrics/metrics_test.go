package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCountsByLabel(t *testing.T) {
	m := New(nil)
	m.Observe("message_create", OutcomeOK)
	m.Observe("message_create", OutcomeOK)
	m.Observe("message_delete", OutcomeRejected)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("message_create", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("message_delete", OutcomeRejected)))
}

func TestSessionsGauge(t *testing.T) {
	m := New(nil)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observe("x", OutcomeOK)
		m.SessionOpened()
		m.SessionClosed()
	})
}

func TestHandlerExposesLiveMessages(t *testing.T) {
	live := 3
	m := New(func() int { return live })
	m.Observe("message_get", OutcomeOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "slashboard_live_messages 3")
	assert.Contains(t, string(body), `slashboard_operations_total{action="message_get",outcome="ok"} 1`)
}
