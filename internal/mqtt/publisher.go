package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trackwatch/trackwatch/internal/errors"
	"github.com/trackwatch/trackwatch/internal/events"
)

// route is one destination for an event kind.
type route struct {
	client Client
	topic  string
	qos    byte
}

// EventPublisher is an events consumer that serializes bus events as JSON and
// publishes them on the control and alert planes.
type EventPublisher struct {
	routes  map[events.Kind][]route
	timeout time.Duration
}

// NewEventPublisher routes debug, status and heartbeat events to the control
// plane and RTT reports to both the control and alert planes. alertPlane may be nil.
func NewEventPublisher(ctrl, alertPlane Client, topics Topics, timeout time.Duration) *EventPublisher {
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	rtt := []route{{client: ctrl, topic: topics.QoS, qos: QoSAtLeastOnce}}
	if alertPlane != nil {
		rtt = append(rtt, route{client: alertPlane, topic: topics.QoS, qos: QoSAtLeastOnce})
	}
	return &EventPublisher{
		routes: map[events.Kind][]route{
			events.KindDebug:     {{client: ctrl, topic: topics.Debug, qos: QoSAtMostOnce}},
			events.KindStatus:    {{client: ctrl, topic: topics.Status, qos: QoSAtLeastOnce}},
			events.KindHeartbeat: {{client: ctrl, topic: topics.Status, qos: QoSAtLeastOnce}},
			events.KindRTT:       rtt,
		},
		timeout: timeout,
	}
}

// Name implements events.EventConsumer.
func (p *EventPublisher) Name() string {
	return "mqtt-publisher"
}

// Accepts implements events.EventConsumer.
func (p *EventPublisher) Accepts(k events.Kind) bool {
	_, ok := p.routes[k]
	return ok
}

// ProcessEvent publishes the event payload on every route of its kind. A
// failure on one plane does not stop delivery on the others.
func (p *EventPublisher) ProcessEvent(event events.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}

	var errs []error
	for _, r := range p.routes[event.Kind] {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := r.client.Publish(ctx, r.topic, payload, r.qos); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", r.client.Plane(), r.topic, err))
		}
		cancel()
	}
	return errors.Join(errs...)
}
