package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CorrelatorMetrics covers alert acknowledgement tracking.
type CorrelatorMetrics struct {
	Acks    *prometheus.CounterVec
	RTT     *prometheus.HistogramVec
	Purged  prometheus.Counter
	Pending prometheus.Gauge
}

// NewCorrelatorMetrics creates and registers the correlator metrics.
func NewCorrelatorMetrics(registry *prometheus.Registry) (*CorrelatorMetrics, error) {
	m := &CorrelatorMetrics{
		Acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackwatch_acks_total",
			Help: "Alert acknowledgements, partitioned by outcome",
		}, []string{"outcome"}),
		RTT: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trackwatch_alert_rtt_seconds",
			Help:    "Round-trip time between alert send and acknowledgement",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount14),
		}, []string{"receiver"}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackwatch_pending_alerts_purged_total",
			Help: "Pending alert records removed by time-to-live",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trackwatch_pending_alerts",
			Help: "Alerts awaiting acknowledgement",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register correlator metrics: %w", err)
	}
	return m, nil
}

// ObserveAck counts an acknowledgement; rtt is recorded for accepted ones only.
func (m *CorrelatorMetrics) ObserveAck(outcome, receiver string, rtt time.Duration, accepted bool) {
	if m == nil {
		return
	}
	m.Acks.WithLabelValues(outcome).Inc()
	if accepted {
		m.RTT.WithLabelValues(receiver).Observe(rtt.Seconds())
	}
}

// AddPurged counts records removed by the TTL sweep.
func (m *CorrelatorMetrics) AddPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Purged.Add(float64(n))
}

// SetPending records the pending table size.
func (m *CorrelatorMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}

// Collect implements the prometheus.Collector interface.
func (m *CorrelatorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Acks.Collect(ch)
	m.RTT.Collect(ch)
	m.Purged.Collect(ch)
	m.Pending.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *CorrelatorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Acks.Describe(ch)
	m.RTT.Describe(ch)
	m.Purged.Describe(ch)
	m.Pending.Describe(ch)
}
