// Package observability provides Prometheus metrics and the scrape endpoint.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trackwatch/trackwatch/internal/events"
	"github.com/trackwatch/trackwatch/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	MQTT       *metrics.MQTTMetrics
	Pipeline   *metrics.PipelineMetrics
	Correlator *metrics.CorrelatorMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors
// on a private registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	correlatorMetrics, err := metrics.NewCorrelatorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create correlator metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		MQTT:       mqttMetrics,
		Pipeline:   pipelineMetrics,
		Correlator: correlatorMetrics,
	}, nil
}

// Registry exposes the registry for tests and additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterEventBus exports the bus counters, read at scrape time.
func (m *Metrics) RegisterEventBus(stats func() events.EventBusStats, depth func() int) error {
	counter := func(name, help string, read func(events.EventBusStats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(read(stats()))
		})
	}

	cs := []prometheus.Collector{
		counter("trackwatch_bus_events_received_total", "Events accepted by the event bus",
			func(s events.EventBusStats) uint64 { return s.EventsReceived }),
		counter("trackwatch_bus_events_processed_total", "Event deliveries completed by consumers",
			func(s events.EventBusStats) uint64 { return s.EventsProcessed }),
		counter("trackwatch_bus_events_dropped_total", "Events dropped because the bus buffer was full",
			func(s events.EventBusStats) uint64 { return s.EventsDropped }),
		counter("trackwatch_bus_consumer_errors_total", "Consumer failures while processing events",
			func(s events.EventBusStats) uint64 { return s.ConsumerErrors }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "trackwatch_bus_queue_depth",
			Help: "Events buffered in the bus",
		}, func() float64 { return float64(depth()) }),
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register event bus metrics: %w", err)
		}
	}
	return nil
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}
