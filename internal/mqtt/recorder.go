package mqtt

import (
	"context"
	"slices"
	"sync"
)

// Message is one publish captured by a Recorder.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// Recorder is an in-memory Client. Published messages are kept in order and
// Deliver feeds inbound messages to matching subscriptions. It backs replay
// runs without a broker and the tests of packages built on Client.
type Recorder struct {
	plane string

	mu        sync.Mutex
	connected bool
	failWith  error
	messages  []Message
	handlers  map[string]MessageHandler
}

// NewRecorder creates a connected recorder for plane.
func NewRecorder(plane string) *Recorder {
	return &Recorder{
		plane:     plane,
		connected: true,
		handlers:  make(map[string]MessageHandler),
	}
}

// Connect marks the recorder connected.
func (r *Recorder) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	return nil
}

// Publish records the message, or returns the configured failure.
func (r *Recorder) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return ErrNotConnected
	}
	if r.failWith != nil {
		return r.failWith
	}
	r.messages = append(r.messages, Message{Topic: topic, Payload: slices.Clone(payload), QoS: qos})
	return nil
}

// Subscribe registers handler for an exact topic.
func (r *Recorder) Subscribe(topic string, _ byte, handler MessageHandler) error {
	r.mu.Lock()
	r.handlers[topic] = handler
	r.mu.Unlock()
	return nil
}

// IsConnected reports the simulated session state.
func (r *Recorder) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Disconnect marks the recorder disconnected.
func (r *Recorder) Disconnect() {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
}

// Plane returns the plane name.
func (r *Recorder) Plane() string {
	return r.plane
}

// FailPublish makes subsequent publishes return err; nil restores success.
func (r *Recorder) FailPublish(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

// Deliver invokes the handler subscribed to topic and reports whether one existed.
func (r *Recorder) Deliver(topic string, payload []byte) bool {
	r.mu.Lock()
	h, ok := r.handlers[topic]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h(topic, payload)
	return true
}

// Messages returns a copy of everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// MessagesOn returns the messages published to topic.
func (r *Recorder) MessagesOn(topic string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}
