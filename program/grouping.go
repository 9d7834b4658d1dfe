package main

import "time"

type GroupState int

const (
	Idle GroupState = iota
	Grouping
)

func (s GroupState) String() string {
	if s == Grouping {
		return "grouping"
	}
	return "idle"
}

// Grouper coalesces ticks that arrive within threshold of each other into a
// single group. It never schedules anything itself: Tick hands back the id of
// the flush timer the caller must arm, and Expire only honours the id that
// was armed last, so re-arming implicitly cancels the previous timer.
type Grouper struct {
	threshold time.Duration

	size  int
	last  time.Time
	timer uint64
	armed uint64
}

func NewGrouper(threshold time.Duration) *Grouper {
	if threshold <= 0 {
		threshold = 500 * time.Millisecond
	}
	return &Grouper{threshold: threshold}
}

func (g *Grouper) Threshold() time.Duration { return g.threshold }

func (g *Grouper) State() GroupState {
	if g.size > 0 {
		return Grouping
	}
	return Idle
}

// Size is the number of ticks in the open group.
func (g *Grouper) Size() int { return g.size }

// Pending is the id of the live flush timer, 0 if none.
func (g *Grouper) Pending() uint64 { return g.timer }

// Tick records one tick at now. If the tick interrupts a burst whose last
// tick is more than threshold ago, the old group is returned as flushed
// before the new group starts. The returned timer must be armed for
// Threshold and delivered back through Expire.
func (g *Grouper) Tick(now time.Time) (flushed int, timer uint64) {
	if g.size == 0 {
		return 0, g.start(now)
	}
	elapsed := now.Sub(g.last).Seconds()
	if elapsed <= g.threshold.Seconds() {
		g.size++
		g.last = now
		return 0, g.arm()
	}
	flushed = g.size
	return flushed, g.start(now)
}

// Expire handles a fired flush timer and returns the size of the group it
// closed, 0 when the timer is stale or nothing was open.
func (g *Grouper) Expire(timer uint64) int {
	if timer == 0 || timer != g.timer {
		return 0
	}
	size := g.size
	g.reset()
	return size
}

// Stop cancels the pending timer and discards the open group without
// flushing it. It returns the discarded size.
func (g *Grouper) Stop() int {
	size := g.size
	g.reset()
	return size
}

func (g *Grouper) start(now time.Time) uint64 {
	g.size = 1
	g.last = now
	return g.arm()
}

func (g *Grouper) arm() uint64 {
	g.armed++
	g.timer = g.armed
	return g.timer
}

func (g *Grouper) reset() {
	g.size = 0
	g.last = time.Time{}
	g.timer = 0
}
