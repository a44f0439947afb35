package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	assert.Equal(t, start, clock.Now())

	clock.Advance(61 * time.Second)
	assert.Equal(t, start.Add(61*time.Second), clock.Now())
	assert.Equal(t, 61*time.Second, clock.Since(start))

	clock.Set(start)
	assert.Zero(t, clock.Since(start))
}

func TestRealClockMonotonic(t *testing.T) {
	var c Clock = RealClock{}
	before := c.Now()
	assert.GreaterOrEqual(t, c.Since(before), time.Duration(0))
}
