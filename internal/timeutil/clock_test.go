package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClockAdvanceAndSleep(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(40 * time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, c.Since(start))

	c.Sleep(60 * time.Millisecond)
	c.Sleep(-5 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, c.Since(start))
	assert.Equal(t, []time.Duration{60 * time.Millisecond, -5 * time.Millisecond}, c.Sleeps())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestRealClockIsMonotonic(t *testing.T) {
	t.Parallel()

	var c Clock = RealClock{}
	a := c.Now()
	b := c.Now()
	assert.GreaterOrEqual(t, b.Sub(a), time.Duration(0))
}
