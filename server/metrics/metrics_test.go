package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.EventReceived("Air alerts")
	m.EventReceived("Air alerts")
	m.AlertHandled("sent", "air_raid", "active")
	m.Error(ErrorParse)
	m.Error(ErrorParse)
	m.Error(ErrorDelivery)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsReceived.WithLabelValues("Air alerts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsTotal.WithLabelValues("sent", "air_raid", "active")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues(ErrorParse)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues(ErrorDelivery)))
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()

	m.SetQueueDepth(3)
	m.SetMembersLoaded(12)
	m.ObserveDelivery(150 * time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.membersLoaded))
	assert.Equal(t, 1, testutil.CollectAndCount(m.deliveryDuration))
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	first := New()
	second := New()

	first.Error(ErrorTemplate)
	assert.Equal(t, 0.0, testutil.ToFloat64(second.errorsTotal.WithLabelValues(ErrorTemplate)))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.EventReceived("Air alerts")

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `raid_events_received_total{backend="Air alerts"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
