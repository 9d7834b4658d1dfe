package visitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrMismatchedSeries = errors.New("disp_times and disp_intensity differ in length")
	ErrInvalidGroupSize = errors.New("group_size must be >= 1")
	ErrMissingField     = errors.New("snapshot field missing")
	ErrInvalidTotal     = errors.New("total_visitors must be a whole number >= 0")
)

// GroupMessage is the only frame a counter client sends.
type GroupMessage struct {
	GroupSize int `json:"group_size"`
}

// DecodeGroup reads a client frame. A frame without group_size counts as a
// single visitor.
func DecodeGroup(data []byte) (int, error) {
	var m struct {
		GroupSize *int `json:"group_size"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return 0, fmt.Errorf("decode group: %w", err)
	}
	if m.GroupSize == nil {
		return 1, nil
	}
	if *m.GroupSize < 1 {
		return 0, fmt.Errorf("%w (got %d)", ErrInvalidGroupSize, *m.GroupSize)
	}
	return *m.GroupSize, nil
}

// Stats is a full snapshot of the visitor statistics. It always replaces
// whatever the receiver displayed before.
type Stats struct {
	TotalVisitors int64     `json:"total_visitors"`
	DispTimes     []int64   `json:"disp_times"`
	DispIntensity []float64 `json:"disp_intensity"`
}

func (s Stats) Validate() error {
	if len(s.DispTimes) != len(s.DispIntensity) {
		return fmt.Errorf("%w: %d times, %d values", ErrMismatchedSeries, len(s.DispTimes), len(s.DispIntensity))
	}
	return nil
}

// Len is the number of points in the series.
func (s Stats) Len() int { return len(s.DispTimes) }

// Time returns the i-th display time.
func (s Stats) Time(i int) time.Time { return time.UnixMilli(s.DispTimes[i]) }

// Decoded is the outcome of decoding an inbound payload: either a valid
// snapshot or the reason it was rejected.
type Decoded struct {
	Stats Stats
	Err   error
}

func (d Decoded) OK() bool { return d.Err == nil }

// wireStats accepts any JSON number and tells absent or null fields apart
// from empty ones.
type wireStats struct {
	TotalVisitors *float64   `json:"total_visitors"`
	DispTimes     *[]float64 `json:"disp_times"`
	DispIntensity *[]float64 `json:"disp_intensity"`
}

func Decode(data []byte) Decoded {
	var w wireStats
	if err := json.Unmarshal(data, &w); err != nil {
		return Decoded{Err: fmt.Errorf("decode stats: %w", err)}
	}
	switch {
	case w.TotalVisitors == nil:
		return Decoded{Err: fmt.Errorf("%w: total_visitors", ErrMissingField)}
	case w.DispTimes == nil:
		return Decoded{Err: fmt.Errorf("%w: disp_times", ErrMissingField)}
	case w.DispIntensity == nil:
		return Decoded{Err: fmt.Errorf("%w: disp_intensity", ErrMissingField)}
	}
	total := *w.TotalVisitors
	if total < 0 || total != math.Trunc(total) || total >= math.MaxInt64 {
		return Decoded{Err: fmt.Errorf("%w (got %v)", ErrInvalidTotal, total)}
	}

	// Fractional milliseconds are dropped.
	times := make([]int64, len(*w.DispTimes))
	for i, v := range *w.DispTimes {
		times[i] = int64(v)
	}
	s := Stats{
		TotalVisitors: int64(total),
		DispTimes:     times,
		DispIntensity: *w.DispIntensity,
	}
	if err := s.Validate(); err != nil {
		return Decoded{Err: err}
	}
	return Decoded{Stats: s}
}
