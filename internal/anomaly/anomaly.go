// Package anomaly flags "track lost / unknown obstacle" episodes from the smoothed
// track-texture signal, independently of the object detector.
package anomaly

import (
	"time"

	"github.com/trackwatch/trackwatch/internal/timeutil"
)

// State of the anomaly machine.
type State int

const (
	// Normal: texture above threshold.
	Normal State = iota
	// Degrading: bad frames accumulating, episode timer running.
	Degrading
	// Alerted: an alert was emitted and the cooldown is active.
	Alerted
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Degrading:
		return "DEGRADING"
	case Alerted:
		return "ALERTED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the episode thresholds.
type Config struct {
	Threshold   float64
	MinDuration time.Duration
	MinFrames   int
	Cooldown    time.Duration
}

// Observation reports one frame's evaluation.
type Observation struct {
	State        State
	Bad          bool
	Density      float64
	BadFrames    int
	BadDuration  time.Duration
	CooldownLeft time.Duration
	// Alert is set on the frame that completes an episode. BadFrames and
	// BadDuration then describe the episode that triggered it.
	Alert bool
}

// Machine is owned by the perception loop and is not safe for concurrent use.
type Machine struct {
	cfg   Config
	clock timeutil.Clock

	state        State
	badFrames    int
	episodeStart time.Time
	lastAlert    time.Time // zero until the first alert
}

// New creates a machine in the Normal state.
func New(cfg Config, clock timeutil.Clock) *Machine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Machine{cfg: cfg, clock: clock}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Observe folds one frame's active-variant density EMA into the machine.
func (m *Machine) Observe(density float64) Observation {
	now := m.clock.Now()
	cooldownLeft := m.cooldownLeft(now)
	obs := Observation{Density: density, Bad: density < m.cfg.Threshold, CooldownLeft: cooldownLeft}

	if !obs.Bad {
		m.badFrames = 0
		m.episodeStart = time.Time{}
		m.state = Normal
		if cooldownLeft > 0 {
			m.state = Alerted
		}
		obs.State = m.state
		return obs
	}

	if m.badFrames == 0 {
		m.episodeStart = now
	}
	m.badFrames++
	elapsed := now.Sub(m.episodeStart)

	obs.BadFrames = m.badFrames
	obs.BadDuration = elapsed

	if cooldownLeft > 0 {
		m.state = Alerted
		obs.State = m.state
		return obs
	}

	m.state = Degrading
	if elapsed >= m.cfg.MinDuration && m.badFrames >= m.cfg.MinFrames {
		obs.Alert = true
		m.lastAlert = now
		m.badFrames = 0
		m.episodeStart = time.Time{}
		m.state = Alerted
		obs.CooldownLeft = m.cfg.Cooldown
	}
	obs.State = m.state
	return obs
}

func (m *Machine) cooldownLeft(now time.Time) time.Duration {
	if m.lastAlert.IsZero() {
		return 0
	}
	return max(0, m.cfg.Cooldown-now.Sub(m.lastAlert))
}
