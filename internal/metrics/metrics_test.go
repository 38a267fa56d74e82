package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFile(t *testing.T) {
	m := New()
	m.ObserveFile(OutcomeProcessed, 2*time.Second)
	m.ObserveFile(OutcomeProcessed, time.Second)
	m.ObserveFile(OutcomeFailed, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Files.WithLabelValues(OutcomeProcessed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Files.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FileDuration))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Rows.WithLabelValues("App Usage").Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `usageprep_rows_total{interaction_type="App Usage"} 3`)
}

func TestSeparateRegistries(t *testing.T) {
	// constructing twice must not panic on duplicate registration
	a, b := New(), New()
	a.QueueDepth.Set(4)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.QueueDepth))
}
