// Package store persists the groups reported by counter clients.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidGroupSize = errors.New("group size must be >= 1")

// Record is one flushed group as seen by the server.
type Record struct {
	At        time.Time
	GroupSize int
}

func (r Record) Validate() error {
	if r.GroupSize < 1 {
		return fmt.Errorf("%w (got %d)", ErrInvalidGroupSize, r.GroupSize)
	}
	if r.At.IsZero() {
		return fmt.Errorf("record time must be set")
	}
	return nil
}

type Store interface {
	Record(ctx context.Context, r Record) error
	// Total is the sum of all recorded group sizes.
	Total(ctx context.Context) (int64, error)
	// Since returns the records at or after t, oldest first.
	Since(ctx context.Context, t time.Time) ([]Record, error)
	Close() error
}

// Open picks the backend from the DSN: postgres URLs go to Postgres,
// anything else is treated as a SQLite file path.
func Open(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("empty store DSN")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(dsn)
	default:
		return OpenSQLite(dsn)
	}
}
