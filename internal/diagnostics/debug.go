// Package diagnostics publishes best-effort debug events with per-type rate limiting.
package diagnostics

import (
	"maps"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/trackwatch/trackwatch/internal/events"
	"github.com/trackwatch/trackwatch/internal/timeutil"
)

// Debug event types.
const (
	EventYOLOBest       = "YOLO_BEST"
	EventROIAuto        = "ROI_AUTO"
	EventTrackVis       = "TRACK_VIS"
	EventROIFilter      = "ROI_FILTER"
	EventDistanceFilter = "DISTANCE_FILTER"
	EventAckDrop        = "AI_ACK_DROP"
	EventInferenceError = "INFER_ERROR"
)

// Fields are the event-specific payload entries.
type Fields map[string]any

// Config tunes rate limiting.
type Config struct {
	Enabled bool
	// MinPeriod is the minimum interval between two events of the same type.
	MinPeriod time.Duration
	// Overrides replaces MinPeriod for specific event types; zero disables limiting.
	Overrides map[string]time.Duration
}

// DefaultConfig limits every type to two events per second except dropped acks.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		MinPeriod: 500 * time.Millisecond,
		Overrides: map[string]time.Duration{EventAckDrop: 0},
	}
}

// Sink accepts published events. *events.EventBus satisfies it.
type Sink interface {
	TryPublish(event events.Event) bool
}

// Publisher stamps debug events and forwards them to the sink. Events arriving
// within the type's minimum period are dropped, not queued. It is safe for
// concurrent use by the perception loop and transport callbacks.
type Publisher struct {
	cfg   Config
	sink  Sink
	clock timeutil.Clock

	mu   sync.Mutex
	last *cache.Cache // event type -> time.Time of the last accepted event

	emitted    uint64
	suppressed uint64
}

// NewPublisher creates a publisher writing to sink.
func NewPublisher(cfg Config, sink Sink, clock timeutil.Clock) *Publisher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	longest := cfg.MinPeriod
	for _, d := range cfg.Overrides {
		longest = max(longest, d)
	}
	// Entries only need to outlive the longest period; the janitor sweeps the rest.
	ttl := max(longest*2, time.Second)
	return &Publisher{
		cfg:   cfg,
		sink:  sink,
		clock: clock,
		last:  cache.New(ttl, ttl*5),
	}
}

// Emit publishes one debug event. It reports whether the event was forwarded.
func (p *Publisher) Emit(eventType string, fields Fields) bool {
	if p == nil || !p.cfg.Enabled {
		return false
	}

	now := p.clock.Now()
	if !p.allow(eventType, now) {
		return false
	}

	payload := make(map[string]any, len(fields)+3)
	maps.Copy(payload, fields)
	payload["type"] = eventType
	payload["ts"] = now.UTC().Format("2006-01-02T15:04:05.000Z")
	payload["t_ms"] = now.UnixMilli()

	return p.sink.TryPublish(events.Event{
		Kind:      events.KindDebug,
		Type:      eventType,
		Payload:   payload,
		Timestamp: now,
	})
}

// Stats returns emitted and suppressed counts.
func (p *Publisher) Stats() (emitted, suppressed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emitted, p.suppressed
}

func (p *Publisher) allow(eventType string, now time.Time) bool {
	period := p.cfg.MinPeriod
	if d, ok := p.cfg.Overrides[eventType]; ok {
		period = d
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if period > 0 {
		if v, found := p.last.Get(eventType); found {
			if prev, ok := v.(time.Time); ok && now.Sub(prev) < period {
				p.suppressed++
				return false
			}
		}
		p.last.SetDefault(eventType, now)
	}
	p.emitted++
	return true
}
