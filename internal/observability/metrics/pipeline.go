package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics covers the per-frame perception loop.
type PipelineMetrics struct {
	FramesTotal      prometheus.Counter
	FrameDuration    prometheus.Histogram
	InferenceErrors  prometheus.Counter
	Detections       *prometheus.CounterVec
	Suppressed       *prometheus.CounterVec
	AlertsSent       *prometheus.CounterVec
	PublishFailures  *prometheus.CounterVec
	ActiveVariant    *prometheus.GaugeVec
	DensityEMA       *prometheus.GaugeVec
	AnomalyState     prometheus.Gauge
	DatasetFrames    prometheus.Counter
	CommandsReceived *prometheus.CounterVec
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.FramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trackwatch_frames_total",
		Help: "Frames processed by the perception loop",
	})
	m.FrameDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trackwatch_frame_duration_seconds",
		Help:    "Wall time spent processing one frame, excluding pacing sleep",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	})
	m.InferenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trackwatch_inference_errors_total",
		Help: "Frames whose detection stage failed",
	})
	m.Detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackwatch_detections_total",
		Help: "Normalized detections partitioned by category",
	}, []string{"category"})
	m.Suppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackwatch_alerts_suppressed_total",
		Help: "Alert candidates dropped before sending, partitioned by reason",
	}, []string{"reason"})
	m.AlertsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackwatch_alerts_sent_total",
		Help: "Alerts published, partitioned by category",
	}, []string{"category"})
	m.PublishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackwatch_publish_failures_total",
		Help: "Failed publishes from the perception loop, partitioned by topic role",
	}, []string{"role"})
	m.ActiveVariant = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trackwatch_roi_active",
		Help: "1 for the active track geometry variant, 0 otherwise",
	}, []string{"variant"})
	m.DensityEMA = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trackwatch_roi_edge_density_ema",
		Help: "Smoothed edge density inside each variant's mask",
	}, []string{"variant"})
	m.AnomalyState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trackwatch_anomaly_state",
		Help: "Track anomaly state (0 normal, 1 degrading, 2 alerted)",
	})
	m.DatasetFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trackwatch_dataset_frames_saved_total",
		Help: "Frames written by dataset capture",
	})
	m.CommandsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trackwatch_commands_total",
		Help: "Control commands received, partitioned by command and disposition",
	}, []string{"cmd", "disposition"})
}

// ObserveFrame counts a processed frame and its duration.
func (m *PipelineMetrics) ObserveFrame(d time.Duration) {
	if m == nil {
		return
	}
	m.FramesTotal.Inc()
	m.FrameDuration.Observe(d.Seconds())
}

// IncInferenceErrors counts a failed detection stage.
func (m *PipelineMetrics) IncInferenceErrors() {
	if m == nil {
		return
	}
	m.InferenceErrors.Inc()
}

// AddDetections counts normalized detections of a category.
func (m *PipelineMetrics) AddDetections(category string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Detections.WithLabelValues(category).Add(float64(n))
}

// IncSuppressed counts a candidate dropped for reason.
func (m *PipelineMetrics) IncSuppressed(reason string) {
	if m == nil {
		return
	}
	m.Suppressed.WithLabelValues(reason).Inc()
}

// IncAlertsSent counts a published alert.
func (m *PipelineMetrics) IncAlertsSent(category string) {
	if m == nil {
		return
	}
	m.AlertsSent.WithLabelValues(category).Inc()
}

// IncPublishFailures counts a failed publish.
func (m *PipelineMetrics) IncPublishFailures(role string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(role).Inc()
}

// SetROI records the active variant and the smoothed densities.
func (m *PipelineMetrics) SetROI(active string, densities map[string]float64) {
	if m == nil {
		return
	}
	for variant, d := range densities {
		m.DensityEMA.WithLabelValues(variant).Set(d)
		if variant == active {
			m.ActiveVariant.WithLabelValues(variant).Set(1)
		} else {
			m.ActiveVariant.WithLabelValues(variant).Set(0)
		}
	}
}

// SetAnomalyState records the anomaly machine state.
func (m *PipelineMetrics) SetAnomalyState(state int) {
	if m == nil {
		return
	}
	m.AnomalyState.Set(float64(state))
}

// IncDatasetFrames counts a saved dataset frame.
func (m *PipelineMetrics) IncDatasetFrames() {
	if m == nil {
		return
	}
	m.DatasetFrames.Inc()
}

// IncCommands counts a control command.
func (m *PipelineMetrics) IncCommands(cmd, disposition string) {
	if m == nil {
		return
	}
	m.CommandsReceived.WithLabelValues(cmd, disposition).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FramesTotal.Collect(ch)
	m.FrameDuration.Collect(ch)
	m.InferenceErrors.Collect(ch)
	m.Detections.Collect(ch)
	m.Suppressed.Collect(ch)
	m.AlertsSent.Collect(ch)
	m.PublishFailures.Collect(ch)
	m.ActiveVariant.Collect(ch)
	m.DensityEMA.Collect(ch)
	m.AnomalyState.Collect(ch)
	m.DatasetFrames.Collect(ch)
	m.CommandsReceived.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FramesTotal.Describe(ch)
	m.FrameDuration.Describe(ch)
	m.InferenceErrors.Describe(ch)
	m.Detections.Describe(ch)
	m.Suppressed.Describe(ch)
	m.AlertsSent.Describe(ch)
	m.PublishFailures.Describe(ch)
	m.ActiveVariant.Describe(ch)
	m.DensityEMA.Describe(ch)
	m.AnomalyState.Describe(ch)
	m.DatasetFrames.Describe(ch)
	m.CommandsReceived.Describe(ch)
}
