package clock_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vimsent/chessd/internal/clock"
)

func TestSwitchDebitsRunningSide(t *testing.T) {
	c := clock.New(time.Minute, func(clock.Side) {})
	time.Sleep(50 * time.Millisecond)
	c.Switch()
	snap := c.Snapshot()
	assert.Equal(t, clock.Black, snap.Running)
	assert.Less(t, snap.WhiteRemaining, time.Minute)
	assert.InDelta(t, float64(time.Minute), float64(snap.BlackRemaining), float64(10*time.Millisecond))
}

func TestSnapshotNeverMutates(t *testing.T) {
	c := clock.New(time.Minute, func(clock.Side) {})
	first := c.Snapshot()
	time.Sleep(20 * time.Millisecond)
	second := c.Snapshot()
	assert.Equal(t, first.Running, second.Running)
	assert.LessOrEqual(t, second.WhiteRemaining, first.WhiteRemaining)
}

func TestFlagFallFiresOnce(t *testing.T) {
	var fired int32
	var losing clock.Side
	c := clock.New(30*time.Millisecond, func(side clock.Side) {
		atomic.AddInt32(&fired, 1)
		losing = side
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, clock.White, losing)

	// A subsequent switch must not re-fire or panic.
	c.Switch()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestStopIsIdempotent(t *testing.T) {
	c := clock.New(time.Minute, func(clock.Side) {})
	c.Stop()
	snapBefore := c.Snapshot()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
	snapAfter := c.Snapshot()
	assert.Equal(t, snapBefore.WhiteRemaining, snapAfter.WhiteRemaining)
}
