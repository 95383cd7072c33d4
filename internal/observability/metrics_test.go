package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackwatch/trackwatch/internal/events"
	"github.com/trackwatch/trackwatch/internal/observability/metrics"
)

func gatherFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestNewMetricsIndependentRegistries(t *testing.T) {
	t.Parallel()

	a, err := NewMetrics()
	require.NoError(t, err)
	b, err := NewMetrics()
	require.NoError(t, err)

	a.Pipeline.ObserveFrame(10 * time.Millisecond)
	assert.InDelta(t, 1.0, testutil.ToFloat64(a.Pipeline.FramesTotal), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(b.Pipeline.FramesTotal), 0)
}

func TestCorrelatorMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Correlator.ObserveAck("accepted", "RBC", 40*time.Millisecond, true)
	m.Correlator.ObserveAck("msg_id_not_tracked", "RBC", 0, false)
	m.Correlator.SetPending(3)
	m.Correlator.AddPurged(2)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Correlator.Acks.WithLabelValues("accepted")), 0)
	assert.InDelta(t, 3.0, testutil.ToFloat64(m.Correlator.Pending), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.Correlator.Purged), 0)

	fam := gatherFamily(t, m, "trackwatch_alert_rtt_seconds")
	require.NotNil(t, fam)
	require.Len(t, fam.GetMetric(), 1)
	h := fam.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), h.GetSampleCount())
	assert.InDelta(t, 0.04, h.GetSampleSum(), 1e-9)
}

func TestPipelineROIGauges(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pipeline.SetROI("curve", map[string]float64{"straight": 0.01, "curve": 0.02})
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Pipeline.ActiveVariant.WithLabelValues("curve")), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.Pipeline.ActiveVariant.WithLabelValues("straight")), 0)
	assert.InDelta(t, 0.02, testutil.ToFloat64(m.Pipeline.DensityEMA.WithLabelValues("curve")), 1e-12)
}

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()

	var p *metrics.PipelineMetrics
	var c *metrics.CorrelatorMetrics
	assert.NotPanics(t, func() {
		p.ObserveFrame(time.Millisecond)
		p.IncSuppressed("cooldown")
		c.ObserveAck("accepted", "RBC", time.Millisecond, true)
	})
}

func TestRegisterEventBus(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	stats := events.EventBusStats{EventsReceived: 7, EventsDropped: 2}
	require.NoError(t, m.RegisterEventBus(func() events.EventBusStats { return stats }, func() int { return 4 }))

	fam := gatherFamily(t, m, "trackwatch_bus_events_dropped_total")
	require.NotNil(t, fam)
	assert.InDelta(t, 2.0, fam.GetMetric()[0].GetCounter().GetValue(), 0)

	fam = gatherFamily(t, m, "trackwatch_bus_queue_depth")
	require.NotNil(t, fam)
	assert.InDelta(t, 4.0, fam.GetMetric()[0].GetGauge().GetValue(), 0)
}

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Pipeline.IncAlertsSent("human")

	e := NewEndpoint("127.0.0.1:0", m)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `trackwatch_alerts_sent_total{category="human"} 1`)
}

func TestEndpointServeAndShutdown(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	e := NewEndpoint(ln.Addr().String(), m)
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 10*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ok\n", string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("endpoint did not stop")
	}
}
