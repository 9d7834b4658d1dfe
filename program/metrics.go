package main

import (
	"time"
)

// roundTrips keeps the most recent send-to-snapshot delays. The oldest
// sample is evicted once the window is full.
type roundTrips struct {
	window  int
	samples []time.Duration
	sum     time.Duration
}

func newRoundTrips(window int) *roundTrips {
	window = max(1, window)
	return &roundTrips{window: window, samples: make([]time.Duration, 0, window)}
}

func (r *roundTrips) record(d time.Duration) {
	if len(r.samples) == r.window {
		r.sum -= r.samples[0]
		r.samples = append(r.samples[:0], r.samples[1:]...)
	}
	r.samples = append(r.samples, d)
	r.sum += d
}

type roundTripSummary struct {
	last    time.Duration
	avg     time.Duration
	max     time.Duration
	samples int
}

func (r *roundTrips) summary() roundTripSummary {
	n := len(r.samples)
	if n == 0 {
		return roundTripSummary{}
	}
	s := roundTripSummary{
		last:    r.samples[n-1],
		avg:     r.sum / time.Duration(n),
		samples: n,
	}
	for _, d := range r.samples {
		s.max = max(s.max, d)
	}
	return s
}

// sessionMetrics is only touched from the event loop.
type sessionMetrics struct {
	started time.Time

	ticks     uint64
	sent      uint64
	dropped   uint64
	snapshots uint64
	malformed uint64

	// awaiting is when the oldest group not yet answered by a snapshot was
	// sent.
	awaiting  time.Time
	roundTrip *roundTrips
}

func newSessionMetrics(now time.Time, window int) *sessionMetrics {
	return &sessionMetrics{
		started:   now,
		roundTrip: newRoundTrips(window),
	}
}

func (m *sessionMetrics) observeTick() { m.ticks++ }

func (m *sessionMetrics) observeDropped() { m.dropped++ }

func (m *sessionMetrics) observeMalformed() { m.malformed++ }

func (m *sessionMetrics) observeSent(now time.Time) {
	m.sent++
	if m.awaiting.IsZero() {
		m.awaiting = now
	}
}

func (m *sessionMetrics) observeSnapshot(now time.Time) {
	m.snapshots++
	if m.awaiting.IsZero() {
		return
	}
	m.roundTrip.record(now.Sub(m.awaiting))
	m.awaiting = time.Time{}
}

type snapshot struct {
	uptime    time.Duration
	ticks     uint64
	sent      uint64
	dropped   uint64
	snapshots uint64
	malformed uint64
	roundTrip roundTripSummary
}

func (m *sessionMetrics) snapshot(now time.Time) snapshot {
	return snapshot{
		uptime:    now.Sub(m.started),
		ticks:     m.ticks,
		sent:      m.sent,
		dropped:   m.dropped,
		snapshots: m.snapshots,
		malformed: m.malformed,
		roundTrip: m.roundTrip.summary(),
	}
}
