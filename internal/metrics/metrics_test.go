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

func TestMetrics_Observations(t *testing.T) {
	m := New()

	m.ObserveRegistryQuery("ok", 2*time.Millisecond)
	m.ObserveRegistryQuery("ok", time.Millisecond)
	m.ObserveRegistryQuery("error", time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.registryQueries.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.registryQueries.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.registryLatency))

	m.ObserveExecution("InsertValuesDetails", "ok", 10*time.Millisecond)
	m.ObserveExecution("InsertValuesDetails", "EndpointNotReady", time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.historyRequests.WithLabelValues("InsertValuesDetails", "ok")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.historyRequests))

	m.SetLiveSubscribers(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.liveSubscribers))

	m.SetEndpointCounts(map[string]int{"Ready": 4, "NotReachable": 1})
	m.SetEndpointCounts(map[string]int{"Ready": 5})
	assert.Equal(t, 1, testutil.CollectAndCount(m.endpointsByState))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.endpointsByState.WithLabelValues("Ready")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveExecution("ReadRawModifiedDetails", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `historian_requests_total{outcome="ok",variant="ReadRawModifiedDetails"} 1`)
}
