package main

import (
	"strconv"
	"time"

	"github.com/keilerkonzept/topk/heap"
	"github.com/keilerkonzept/topk/sliding"
)

// burstBoard ranks group sizes by how often they were flushed within a
// sliding window.
type burstBoard struct {
	sketch *sliding.Sketch
	tick   time.Duration
	last   time.Time
}

func newBurstBoard(k int, window, tick time.Duration) *burstBoard {
	return &burstBoard{
		sketch: sliding.New(k, int(window/tick),
			sliding.WithWidth(256),
			sliding.WithDepth(3),
		),
		tick: tick,
	}
}

func burstKey(size int) string { return strconv.Itoa(size) }

func (b *burstBoard) observe(size int) {
	if size < 1 {
		return
	}
	b.sketch.Incr(burstKey(size))
}

func (b *burstBoard) count(size int) uint32 {
	return b.sketch.Count(burstKey(size))
}

// advance moves the window forward to t in whole ticks.
func (b *burstBoard) advance(t time.Time) {
	t = t.Truncate(b.tick)
	if b.last.IsZero() {
		b.last = t
		return
	}
	if ticks := int(t.Sub(b.last) / b.tick); ticks > 0 {
		b.sketch.Ticks(ticks)
		b.last = t
	}
}

// top returns the ranked sizes still present in the window.
func (b *burstBoard) top() []heap.Item {
	sorted := b.sketch.SortedSlice()
	out := sorted[:0]
	for _, it := range sorted {
		if it.Count > 0 {
			out = append(out, it)
		}
	}
	return out
}
