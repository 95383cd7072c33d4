package anomaly

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackwatch/trackwatch/internal/timeutil"
)

const (
	good = 0.01
	bad  = 0.001
)

func testConfig() Config {
	return Config{
		Threshold:   0.0022,
		MinDuration: 3 * time.Second,
		MinFrames:   28,
		Cooldown:    12 * time.Second,
	}
}

func newMachine() (*Machine, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(testConfig(), clock), clock
}

// feed observes n frames of density d spaced by step and returns the number of alerts.
func feed(m *Machine, clock *timeutil.MockClock, n int, d float64, step time.Duration) (alerts int, last Observation) {
	for range n {
		last = m.Observe(d)
		if last.Alert {
			alerts++
		}
		clock.Advance(step)
	}
	return alerts, last
}

func TestSingleEpisodeAlertsOnce(t *testing.T) {
	t.Parallel()

	m, clock := newMachine()
	var alertObs Observation
	alerts := 0
	for i := range 30 {
		obs := m.Observe(bad)
		if obs.Alert {
			alerts++
			alertObs = obs
			assert.Equal(t, 28, i, "alert on the frame satisfying both duration and count")
		}
		clock.Advance(110 * time.Millisecond)
	}

	require.Equal(t, 1, alerts)
	assert.Equal(t, 29, alertObs.BadFrames)
	assert.GreaterOrEqual(t, alertObs.BadDuration, 3*time.Second)
	assert.Equal(t, Alerted, alertObs.State)
	assert.Equal(t, Alerted, m.State())
}

func TestDurationAloneIsInsufficient(t *testing.T) {
	t.Parallel()

	// 10 frames over 4.5s: long enough but too few frames.
	m, clock := newMachine()
	alerts, last := feed(m, clock, 10, bad, 500*time.Millisecond)
	assert.Zero(t, alerts)
	assert.Equal(t, Degrading, last.State)
}

func TestFrameCountAloneIsInsufficient(t *testing.T) {
	t.Parallel()

	// 40 frames in under a second.
	m, clock := newMachine()
	alerts, last := feed(m, clock, 40, bad, 20*time.Millisecond)
	assert.Zero(t, alerts)
	assert.Equal(t, 40, last.BadFrames)
}

func TestGoodFrameResetsEpisode(t *testing.T) {
	t.Parallel()

	m, clock := newMachine()
	_, last := feed(m, clock, 27, bad, 110*time.Millisecond)
	require.Equal(t, 27, last.BadFrames)

	obs := m.Observe(good)
	clock.Advance(110 * time.Millisecond)
	assert.Equal(t, Normal, obs.State)
	assert.Zero(t, obs.BadFrames)

	obs = m.Observe(bad)
	assert.Equal(t, 1, obs.BadFrames, "counter restarts from zero")
	assert.Zero(t, obs.BadDuration)
}

func TestCooldownBlocksSecondAlert(t *testing.T) {
	t.Parallel()

	m, clock := newMachine()

	// Continuous bad texture for 11.9s after the first alert: no second alert.
	alerts, _ := feed(m, clock, 29, bad, 110*time.Millisecond)
	require.Equal(t, 1, alerts)

	alerts, last := feed(m, clock, 100, bad, 110*time.Millisecond)
	assert.Zero(t, alerts)
	assert.Equal(t, Alerted, last.State)
	assert.Positive(t, last.CooldownLeft)

	// Once the cooldown expires the ongoing episode is eligible again.
	alerts, _ = feed(m, clock, 20, bad, 110*time.Millisecond)
	assert.Equal(t, 1, alerts)
}

func TestGoodFramesDuringCooldownStayAlerted(t *testing.T) {
	t.Parallel()

	m, clock := newMachine()
	alerts, _ := feed(m, clock, 29, bad, 110*time.Millisecond)
	require.Equal(t, 1, alerts)

	obs := m.Observe(good)
	assert.Equal(t, Alerted, obs.State)

	clock.Advance(13 * time.Second)
	obs = m.Observe(good)
	assert.Equal(t, Normal, obs.State)
	assert.Zero(t, obs.CooldownLeft)
}

func TestUnmeasuredFramesAreNotBad(t *testing.T) {
	t.Parallel()

	m, clock := newMachine()
	alerts, last := feed(m, clock, 40, math.NaN(), 110*time.Millisecond)
	assert.Zero(t, alerts)
	assert.Equal(t, Normal, last.State)
	assert.Zero(t, last.BadFrames)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NORMAL", Normal.String())
	assert.Equal(t, "DEGRADING", Degrading.String())
	assert.Equal(t, "ALERTED", Alerted.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
