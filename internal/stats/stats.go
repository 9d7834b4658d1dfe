// Package stats turns stored group records into the snapshot clients display.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/keilerkonzept/visitor-counter/internal/store"
	"github.com/keilerkonzept/visitor-counter/internal/visitor"
)

type Builder struct {
	store  store.Store
	window time.Duration
	bucket time.Duration
	now    func() time.Time
}

type Option func(*Builder)

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(s store.Store, window, bucket time.Duration, opts ...Option) *Builder {
	if bucket <= 0 {
		bucket = 30 * time.Second
	}
	if window < bucket {
		window = bucket
	}
	b := &Builder{
		store:  s,
		window: window,
		bucket: bucket,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Buckets is the number of points in every series, the window rounded up to
// whole buckets.
func (b *Builder) Buckets() int {
	return int((b.window + b.bucket - 1) / b.bucket)
}

func (b *Builder) Snapshot(ctx context.Context) (visitor.Stats, error) {
	total, err := b.store.Total(ctx)
	if err != nil {
		return visitor.Stats{}, fmt.Errorf("snapshot total: %w", err)
	}

	n := b.Buckets()
	last := b.now().Truncate(b.bucket)
	first := last.Add(-time.Duration(n-1) * b.bucket)
	records, err := b.store.Since(ctx, first)
	if err != nil {
		return visitor.Stats{}, fmt.Errorf("snapshot series: %w", err)
	}

	times, intensity := Bucketize(records, first, b.bucket, n)
	return visitor.Stats{
		TotalVisitors: total,
		DispTimes:     times,
		DispIntensity: intensity,
	}, nil
}

// Bucketize sums group sizes into n buckets of width bucket starting at
// first. Every bucket is present, empty ones with zero intensity. Times are
// bucket starts in unix milliseconds. Records before first are ignored and
// records past the last bucket are counted in the last one.
func Bucketize(records []store.Record, first time.Time, bucket time.Duration, n int) ([]int64, []float64) {
	if n < 1 {
		return []int64{}, []float64{}
	}
	times := make([]int64, n)
	intensity := make([]float64, n)
	for i := range times {
		times[i] = first.Add(time.Duration(i) * bucket).UnixMilli()
	}
	for _, r := range records {
		if r.At.Before(first) {
			continue
		}
		idx := int(r.At.Sub(first) / bucket)
		if idx >= n {
			idx = n - 1
		}
		intensity[idx] += float64(r.GroupSize)
	}
	return times, intensity
}
