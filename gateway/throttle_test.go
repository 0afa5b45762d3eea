package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time          { return c.t }
func (c *stepClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestThrottleCapacity(t *testing.T) {
	clk := &stepClock{t: time.Unix(1_700_000_000, 0)}
	th := NewThrottle(3, clk.Now)

	for i := 0; i < 3; i++ {
		assert.True(t, th.CanSend(), "send %d should be admitted", i)
		th.Record()
		clk.Advance(100 * time.Millisecond)
	}
	assert.False(t, th.CanSend())
	assert.Equal(t, 3, th.InFlight())
}

func TestThrottleEvictsExactlyOneSecondOld(t *testing.T) {
	clk := &stepClock{t: time.Unix(1_700_000_000, 0)}
	th := NewThrottle(2, clk.Now)

	th.Record()
	clk.Advance(500 * time.Millisecond)
	th.Record()
	assert.False(t, th.CanSend())

	// 第一条恰好 1.000s，应被淘汰
	clk.Advance(500 * time.Millisecond)
	assert.True(t, th.CanSend())
	assert.Equal(t, 1, th.InFlight())

	clk.Advance(499 * time.Millisecond)
	assert.Equal(t, 1, th.InFlight())
	clk.Advance(time.Millisecond)
	assert.Equal(t, 0, th.InFlight())
}

func TestThrottleDeniedWithoutRecordHasNoSideEffect(t *testing.T) {
	clk := &stepClock{t: time.Unix(1_700_000_000, 0)}
	th := NewThrottle(1, clk.Now)
	assert.True(t, th.CanSend())
	assert.True(t, th.CanSend())
	assert.Equal(t, 0, th.InFlight())
	th.Record()
	assert.False(t, th.CanSend())
}

func TestThrottleDefaults(t *testing.T) {
	th := NewThrottle(0, nil)
	assert.Equal(t, 1, th.Max())
	assert.True(t, th.CanSend())
}
