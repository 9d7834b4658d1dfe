package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

type SQLite struct {
	db     *sql.DB
	insert *sql.Stmt
}

func OpenSQLite(path string) (*SQLite, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	insert, err := db.Prepare(`INSERT INTO visits(ts_ms, group_size) VALUES(?, ?)`)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to prepare insert: %w", err), db.Close())
	}
	return &SQLite{db: db, insert: insert}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS visits(
	  id         INTEGER PRIMARY KEY,
	  ts_ms      INTEGER NOT NULL,
	  group_size INTEGER NOT NULL CHECK (group_size >= 1)
	);
	CREATE INDEX IF NOT EXISTS idx_visits_ts ON visits(ts_ms);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (s *SQLite) Record(ctx context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, err := s.insert.ExecContext(ctx, r.At.UnixMilli(), r.GroupSize); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *SQLite) Total(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(group_size), 0) FROM visits`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum visits: %w", err)
	}
	return total, nil
}

func (s *SQLite) Since(ctx context.Context, t time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts_ms, group_size FROM visits WHERE ts_ms >= ? ORDER BY ts_ms, id`, t.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			ms   int64
			size int
		)
		if err := rows.Scan(&ms, &size); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		out = append(out, Record{At: time.UnixMilli(ms), GroupSize: size})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read visits: %w", err)
	}
	return out, nil
}

func (s *SQLite) Close() error {
	return multierr.Combine(s.insert.Close(), s.db.Close())
}
