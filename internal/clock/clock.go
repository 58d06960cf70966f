// Package clock implements the per-game dual countdown described in
// spec section 4.2: two remaining-time budgets, one running side, and
// a flag-fall callback fired at most once. Remaining time is always
// computed lazily against the wall clock rather than ticked, so a
// snapshot never races a concurrent debit — adapted from the teacher's
// clocks.Vector, which keeps the same "compute on read, mutex-guarded"
// shape for a different kind of clock.
package clock

import (
	"sync"
	"time"

	"github.com/vimsent/chessd/internal/oracle"
)

// Side is which player's countdown is currently running.
type Side = oracle.Color

const (
	White = oracle.White
	Black = oracle.Black
)

// FlagFallSink receives notice that a side's clock reached zero. The
// Clock never holds a reference to a Session directly; it only knows
// how to call this function, breaking the cyclic reference the
// original source had between timer and game (spec.md section 9).
type FlagFallSink func(losing Side)

// Snapshot is a read-only freeze of the clock, safe to send to
// clients without any risk of racing the next debit.
type Snapshot struct {
	WhiteRemaining time.Duration
	BlackRemaining time.Duration
	Running        Side
	ServerInstant  time.Time
}

// Clock tracks seconds remaining for each side of one game.
type Clock struct {
	mu sync.Mutex

	whiteRemaining time.Duration
	blackRemaining time.Duration
	running        Side
	runningSince   time.Time

	fired bool
	sink  FlagFallSink
	timer *time.Timer
}

// New constructs a Clock with timeControl minutes on each side. White
// starts running immediately, at construction time (the pairing
// instant), not at move one, per spec.md section 4.2.
func New(timeControl time.Duration, sink FlagFallSink) *Clock {
	c := &Clock{
		whiteRemaining: timeControl,
		blackRemaining: timeControl,
		running:        White,
		runningSince:   time.Now(),
		sink:           sink,
	}
	c.mu.Lock()
	c.rescheduleLocked()
	c.mu.Unlock()
	return c
}

// Switch stops the running side, debits its elapsed time, and starts
// the other side. A no-op once the clock has fired.
func (c *Clock) Switch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		return
	}
	c.debitLocked(time.Now())
	c.running = c.running.Other()
	c.rescheduleLocked()
}

// Snapshot computes the current remaining time for both sides without
// mutating any state, so external observers never race the debit.
func (c *Clock) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	white, black := c.whiteRemaining, c.blackRemaining
	if !c.fired {
		if c.running == White {
			white = clampNonNegative(white - now.Sub(c.runningSince))
		} else {
			black = clampNonNegative(black - now.Sub(c.runningSince))
		}
	}
	return Snapshot{
		WhiteRemaining: white,
		BlackRemaining: black,
		Running:        c.running,
		ServerInstant:  now,
	}
}

// Stop freezes the clock without declaring flag-fall. Idempotent.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Clock) stopLocked() {
	if c.fired {
		return
	}
	c.debitLocked(time.Now())
	c.fired = true
	if c.timer != nil {
		c.timer.Stop()
	}
}

// debitLocked must be called with mu held. It decrements the running
// side's remaining time by the elapsed wall-clock duration, clamped to
// zero, and resets runningSince to now.
func (c *Clock) debitLocked(now time.Time) {
	elapsed := now.Sub(c.runningSince)
	if c.running == White {
		c.whiteRemaining = clampNonNegative(c.whiteRemaining - elapsed)
	} else {
		c.blackRemaining = clampNonNegative(c.blackRemaining - elapsed)
	}
	c.runningSince = now
}

// rescheduleLocked arranges a single timed wakeup for whichever side
// is now running, so flag-fall does not depend on a 1-second polling
// tick — only the ~5s broadcast cadence needs one of those, and that
// lives in the Session, not the Clock. Must be called with mu held.
func (c *Clock) rescheduleLocked() {
	if c.fired {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	remaining := c.whiteRemaining
	if c.running == Black {
		remaining = c.blackRemaining
	}
	if remaining <= 0 {
		side := c.running
		go c.fire(side)
		return
	}
	side := c.running
	c.timer = time.AfterFunc(remaining, func() {
		c.fire(side)
	})
}

// fire is the timer callback. It re-validates that the side is still
// running and actually out of time before declaring flag-fall, since
// a Switch may have happened concurrently with the timer firing.
func (c *Clock) fire(side Side) {
	c.mu.Lock()
	if c.fired || c.running != side {
		c.mu.Unlock()
		return
	}
	remaining := c.whiteRemaining
	if side == Black {
		remaining = c.blackRemaining
	}
	remaining -= time.Since(c.runningSince)
	if remaining > 0 {
		c.rescheduleLocked()
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.mu.Unlock()
	c.sink(side)
}

func clampNonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
