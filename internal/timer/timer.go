// Package timer implements the tick counters used by the reactor for
// periodic work and one-shot alarms.
//
// All durations are measured in reactor ticks: a duration d becomes
// round(d/tick) ticks. A counter is incremented once per tick modulo its
// limit and reports "due" whenever it wraps around to zero.
//
// Changing the duration of a running counter only changes the limit. The
// current count is kept, so the next trigger is measured from the last
// wrap and not from the moment of reconfiguration.
package timer

import (
	"math"
	"time"
)

// Ticks converts d into a number of ticks of length tick. The result is
// never less than one.
func Ticks(d, tick time.Duration) int {
	if tick <= 0 {
		tick = time.Second
	}
	n := int(math.Round(float64(d) / float64(tick)))
	if n < 1 {
		n = 1
	}
	return n
}

type counter struct {
	tick  time.Duration
	count int
	limit int
}

func newCounter(d, tick time.Duration) counter {
	return counter{tick: tick, limit: Ticks(d, tick)}
}

func (c *counter) set(d time.Duration) {
	c.limit = Ticks(d, c.tick)
}

func (c *counter) advance() bool {
	c.count = (c.count + 1) % c.limit
	return c.count == 0
}

func (c *counter) duration() time.Duration {
	return time.Duration(c.limit) * c.tick
}

// Periodic is a free running counter that becomes due every period.
// Owners embed it to satisfy the MustWork half of reactor.Worker.
type Periodic struct {
	c counter
}

// NewPeriodic returns a Periodic firing every period, measured in ticks of
// length tick.
func NewPeriodic(period, tick time.Duration) *Periodic {
	return &Periodic{c: newCounter(period, tick)}
}

// MustWork advances the counter by one tick and reports whether the
// period elapsed.
func (p *Periodic) MustWork() bool { return p.c.advance() }

// SetPeriod changes the period without resetting the current count.
func (p *Periodic) SetPeriod(period time.Duration) { p.c.set(period) }

// Period returns the effective period, rounded to whole ticks.
func (p *Periodic) Period() time.Duration { return p.c.duration() }

// Limit returns the period in ticks.
func (p *Periodic) Limit() int { return p.c.limit }

func (p *Periodic) Reset() { p.c.count = 0 }

// OneShot counts down to a single timeout. The reactor deregisters it
// before invoking the callback, so it must be registered again to fire
// again.
type OneShot struct {
	c counter
}

func NewOneShot(timeout, tick time.Duration) *OneShot {
	return &OneShot{c: newCounter(timeout, tick)}
}

// Timeout advances the counter by one tick and reports whether the
// timeout elapsed.
func (o *OneShot) Timeout() bool { return o.c.advance() }

// SetTimeout changes the timeout without resetting the current count.
func (o *OneShot) SetTimeout(timeout time.Duration) { o.c.set(timeout) }

// Reset restarts the countdown from zero.
func (o *OneShot) Reset() { o.c.count = 0 }

func (o *OneShot) Duration() time.Duration { return o.c.duration() }
