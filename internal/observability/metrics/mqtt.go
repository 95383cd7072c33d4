// Package metrics provides custom Prometheus metrics for the trackwatch pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains all Prometheus metrics related to MQTT operations,
// partitioned by transport plane.
type MQTTMetrics struct {
	ConnectionStatus  *prometheus.GaugeVec
	MessagesDelivered *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	MessageSize       *prometheus.HistogramVec
	PublishLatency    *prometheus.HistogramVec
}

// NewMQTTMetrics creates a new instance of MQTTMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for MQTTMetrics.
func (m *MQTTMetrics) initMetrics() {
	m.ConnectionStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mqtt_connection_status",
		Help: "Current MQTT connection status per plane (1 for connected, 0 for disconnected)",
	}, []string{"plane"})

	m.MessagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_messages_delivered_total",
		Help: "Total number of MQTT messages successfully delivered",
	}, []string{"plane"})

	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_errors_total",
		Help: "Total number of MQTT errors encountered",
	}, []string{"plane", "operation"})

	m.ReconnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_reconnect_attempts_total",
		Help: "Total number of MQTT reconnections",
	}, []string{"plane"})

	m.MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_messages_received_total",
		Help: "Total number of inbound MQTT messages",
	}, []string{"plane", "topic"})

	m.MessageSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mqtt_message_size_bytes",
		Help:    "Size of MQTT messages in bytes",
		Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount14),
	}, []string{"plane"})

	m.PublishLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	}, []string{"plane"})
}

// UpdateConnectionStatus updates the connection status of a plane.
func (m *MQTTMetrics) UpdateConnectionStatus(plane string, connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.ConnectionStatus.WithLabelValues(plane).Set(1)
	} else {
		m.ConnectionStatus.WithLabelValues(plane).Set(0)
	}
}

// IncrementMessagesDelivered increments the count of successfully delivered messages
// and records their size.
func (m *MQTTMetrics) IncrementMessagesDelivered(plane string, sizeBytes int) {
	if m == nil {
		return
	}
	m.MessagesDelivered.WithLabelValues(plane).Inc()
	m.MessageSize.WithLabelValues(plane).Observe(float64(sizeBytes))
}

// IncrementErrors increments the count of MQTT errors for an operation.
func (m *MQTTMetrics) IncrementErrors(plane, operation string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(plane, operation).Inc()
}

// IncrementReconnectAttempts increments the count of reconnections.
func (m *MQTTMetrics) IncrementReconnectAttempts(plane string) {
	if m == nil {
		return
	}
	m.ReconnectAttempts.WithLabelValues(plane).Inc()
}

// IncrementMessagesReceived counts an inbound message.
func (m *MQTTMetrics) IncrementMessagesReceived(plane, topic string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(plane, topic).Inc()
}

// ObservePublishLatency records the latency of a publish operation.
func (m *MQTTMetrics) ObservePublishLatency(plane string, d time.Duration) {
	if m == nil {
		return
	}
	m.PublishLatency.WithLabelValues(plane).Observe(d.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ConnectionStatus.Collect(ch)
	m.MessagesDelivered.Collect(ch)
	m.Errors.Collect(ch)
	m.ReconnectAttempts.Collect(ch)
	m.MessagesReceived.Collect(ch)
	m.MessageSize.Collect(ch)
	m.PublishLatency.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ConnectionStatus.Describe(ch)
	m.MessagesDelivered.Describe(ch)
	m.Errors.Describe(ch)
	m.ReconnectAttempts.Describe(ch)
	m.MessagesReceived.Describe(ch)
	m.MessageSize.Describe(ch)
	m.PublishLatency.Describe(ch)
}
