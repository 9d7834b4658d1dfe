package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keilerkonzept/visitor-counter/internal/store"
)

type memStore struct {
	records []store.Record
	err     error
}

func (m *memStore) Record(_ context.Context, r store.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memStore) Total(context.Context) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	var total int64
	for _, r := range m.records {
		total += int64(r.GroupSize)
	}
	return total, nil
}

func (m *memStore) Since(_ context.Context, t time.Time) ([]store.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []store.Record
	for _, r := range m.records {
		if !r.At.Before(t) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func TestBucketize(t *testing.T) {
	first := time.UnixMilli(1_000_000)
	records := []store.Record{
		{At: first.Add(-time.Second), GroupSize: 9}, // before the window
		{At: first, GroupSize: 1},
		{At: first.Add(5 * time.Second), GroupSize: 2},
		{At: first.Add(25 * time.Second), GroupSize: 3},
		{At: first.Add(time.Minute), GroupSize: 4}, // past the end
	}

	times, intensity := Bucketize(records, first, 10*time.Second, 3)

	assert.Equal(t, []int64{1_000_000, 1_010_000, 1_020_000}, times)
	assert.Equal(t, []float64{3, 0, 7}, intensity)
}

func TestBucketizeEmpty(t *testing.T) {
	times, intensity := Bucketize(nil, time.UnixMilli(0), time.Second, 0)
	assert.Empty(t, times)
	assert.Empty(t, intensity)

	times, intensity = Bucketize(nil, time.UnixMilli(0), time.Second, 2)
	assert.Equal(t, []int64{0, 1000}, times)
	assert.Equal(t, []float64{0, 0}, intensity)
}

func TestBuilderSnapshot(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 45, 0, time.UTC)
	s := &memStore{}
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, store.Record{At: now.Add(-2 * time.Hour), GroupSize: 10}))
	require.NoError(t, s.Record(ctx, store.Record{At: now.Add(-70 * time.Second), GroupSize: 2}))
	require.NoError(t, s.Record(ctx, store.Record{At: now.Add(-time.Second), GroupSize: 3}))

	b := NewBuilder(s, 2*time.Minute, 30*time.Second, WithClock(func() time.Time { return now }))
	require.Equal(t, 4, b.Buckets())

	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, snap.Validate())

	assert.Equal(t, int64(15), snap.TotalVisitors)
	require.Equal(t, 4, snap.Len())
	assert.Equal(t, time.Date(2026, 10, 18, 11, 59, 0, 0, time.UTC).UnixMilli(), snap.DispTimes[0])
	assert.Equal(t, time.Date(2026, 10, 18, 12, 0, 30, 0, time.UTC).UnixMilli(), snap.DispTimes[3])
	// 11:59:35 lands in the 11:59:30 bucket, 12:00:44 in the 12:00:30 one.
	assert.Equal(t, []float64{0, 2, 0, 3}, snap.DispIntensity)
}

func TestBuilderWindowRoundsUp(t *testing.T) {
	b := NewBuilder(&memStore{}, 95*time.Second, 30*time.Second)
	assert.Equal(t, 4, b.Buckets())

	b = NewBuilder(&memStore{}, time.Second, 30*time.Second)
	assert.Equal(t, 1, b.Buckets())
}

func TestBuilderStoreError(t *testing.T) {
	boom := errors.New("boom")
	b := NewBuilder(&memStore{err: boom}, time.Minute, time.Second)
	_, err := b.Snapshot(context.Background())
	assert.ErrorIs(t, err, boom)
}
