// Package events provides an asynchronous event bus that keeps best-effort
// outbound work (debug events, RTT telemetry, status, journal writes) off the
// perception loop and the transport callbacks.
package events

import (
	"time"
)

// Kind groups events by purpose so consumers can filter cheaply.
type Kind string

const (
	KindDebug     Kind = "debug"
	KindRTT       Kind = "rtt"
	KindStatus    Kind = "status"
	KindHeartbeat Kind = "heartbeat"
	KindAlertSent Kind = "alert_sent"
)

// Event is one unit of deferred work.
type Event struct {
	Kind Kind
	// Type is the message type, e.g. "AI_RTT" or a debug event name.
	Type      string
	Payload   any
	Timestamp time.Time
}

// EventConsumer processes events delivered by the bus.
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// Accepts reports whether the consumer wants events of kind k
	Accepts(k Kind) bool

	// ProcessEvent processes a single event
	ProcessEvent(event Event) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
