package events

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trackwatch/trackwatch/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockConsumer implements EventConsumer for testing
type mockConsumer struct {
	name     string
	kinds    []Kind
	fail     bool
	panics   bool
	block    chan struct{}
	count    atomic.Int32
	mu       sync.Mutex
	received []Event
}

func (m *mockConsumer) Name() string { return m.name }

func (m *mockConsumer) Accepts(k Kind) bool {
	if len(m.kinds) == 0 {
		return true
	}
	for _, want := range m.kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (m *mockConsumer) ProcessEvent(event Event) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	m.received = append(m.received, event)
	m.mu.Unlock()
	m.count.Add(1)

	if m.panics {
		panic("boom")
	}
	if m.fail {
		return errors.New("mock error")
	}
	return nil
}

func (m *mockConsumer) events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.received))
	copy(out, m.received)
	return out
}

func newTestBus(t *testing.T, cfg Config) *EventBus {
	t.Helper()
	eb := NewEventBus(cfg, logger.NewSlogLogger(io.Discard, logger.LogLevelDebug))
	t.Cleanup(func() { _ = eb.Shutdown(time.Second) })
	return eb
}

func TestTryPublishBeforeStart(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, DefaultConfig())
	require.NoError(t, eb.RegisterConsumer(&mockConsumer{name: "c"}))
	assert.False(t, eb.TryPublish(Event{Kind: KindDebug}))
}

func TestDeliveryInOrder(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, Config{BufferSize: 64, Workers: 1})
	c := &mockConsumer{name: "ordered"}
	require.NoError(t, eb.RegisterConsumer(c))
	eb.Start()

	for i := range 20 {
		require.True(t, eb.TryPublish(Event{Kind: KindRTT, Type: "AI_RTT", Payload: i}))
	}

	require.Eventually(t, func() bool { return c.count.Load() == 20 }, 2*time.Second, 5*time.Millisecond)
	for i, ev := range c.events() {
		assert.Equal(t, i, ev.Payload)
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.Equal(t, uint64(20), eb.GetStats().EventsProcessed)
}

func TestConsumerKindFilter(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, DefaultConfig())
	journal := &mockConsumer{name: "journal", kinds: []Kind{KindAlertSent, KindRTT}}
	all := &mockConsumer{name: "all"}
	require.NoError(t, eb.RegisterConsumer(journal))
	require.NoError(t, eb.RegisterConsumer(all))
	eb.Start()

	eb.TryPublish(Event{Kind: KindDebug, Type: "ROI_AUTO"})
	eb.TryPublish(Event{Kind: KindAlertSent, Type: "AI_ALERT"})

	require.Eventually(t, func() bool { return all.count.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, eb.Shutdown(time.Second))
	assert.Len(t, journal.events(), 1)
	assert.Equal(t, KindAlertSent, journal.events()[0].Kind)
}

func TestDuplicateConsumerRejected(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, DefaultConfig())
	require.NoError(t, eb.RegisterConsumer(&mockConsumer{name: "dup"}))
	require.Error(t, eb.RegisterConsumer(&mockConsumer{name: "dup"}))
}

func TestFullBufferDrops(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, Config{BufferSize: 2, Workers: 1})
	release := make(chan struct{})
	c := &mockConsumer{name: "slow", block: release}
	require.NoError(t, eb.RegisterConsumer(c))
	eb.Start()

	// The worker holds the first event; two more fill the buffer.
	require.True(t, eb.TryPublish(Event{Kind: KindDebug}))
	require.Eventually(t, func() bool { return eb.QueueDepth() == 0 }, 2*time.Second, time.Millisecond)
	require.True(t, eb.TryPublish(Event{Kind: KindDebug}))
	require.True(t, eb.TryPublish(Event{Kind: KindDebug}))

	assert.False(t, eb.TryPublish(Event{Kind: KindDebug}))
	assert.Equal(t, uint64(1), eb.GetStats().EventsDropped)

	close(release)
	require.NoError(t, eb.Shutdown(time.Second))
	assert.Equal(t, int32(3), c.count.Load())
}

func TestConsumerFailuresAreContained(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, DefaultConfig())
	failing := &mockConsumer{name: "failing", fail: true}
	panicking := &mockConsumer{name: "panicking", panics: true}
	healthy := &mockConsumer{name: "healthy"}
	for _, c := range []*mockConsumer{failing, panicking, healthy} {
		require.NoError(t, eb.RegisterConsumer(c))
	}
	eb.Start()

	eb.TryPublish(Event{Kind: KindStatus})
	require.Eventually(t, func() bool { return healthy.count.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	stats := eb.GetStats()
	assert.Equal(t, uint64(2), stats.ConsumerErrors)
	assert.Equal(t, uint64(1), stats.EventsProcessed)
}

func TestShutdownDrainsBuffer(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, Config{BufferSize: 128, Workers: 2})
	c := &mockConsumer{name: "drain"}
	require.NoError(t, eb.RegisterConsumer(c))
	eb.Start()

	for range 100 {
		eb.TryPublish(Event{Kind: KindHeartbeat})
	}
	require.NoError(t, eb.Shutdown(time.Second))
	assert.Equal(t, int32(100), c.count.Load())
	assert.False(t, eb.TryPublish(Event{Kind: KindHeartbeat}))
}
