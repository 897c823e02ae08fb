// Package history archives completed scenario runs to SQLite so operators
// can compare runs after the fact. Live run state never lives here.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/surgelabs/cascade/internal/model"
)

// Store is the completed-run archive. Safe for concurrent use; database/sql
// serializes access to the single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive at dbPath and runs schema migration.
// WAL mode keeps status reads cheap while a run is being archived.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("history: enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		start_epoch_seconds INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		peak_rate_per_minute REAL NOT NULL,
		requests_sent INTEGER NOT NULL,
		requests_failed INTEGER NOT NULL,
		per_journey TEXT NOT NULL,
		stopped_reason TEXT NOT NULL,
		stopped_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_stopped_at ON runs(stopped_at DESC);
	`)
	return err
}

// Archive records one finished run.
func (s *Store) Archive(ctx context.Context, rec model.RunRecord) error {
	perJourney, err := json.Marshal(rec.PerJourney)
	if err != nil {
		return fmt.Errorf("history: marshal per-journey counts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, start_epoch_seconds, duration_minutes, peak_rate_per_minute,
			requests_sent, requests_failed, per_journey, stopped_reason, stopped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartEpochSeconds, rec.DurationMinutes, rec.PeakRatePerMinute,
		rec.RequestsSent, rec.RequestsFailed, string(perJourney), rec.StoppedReason, rec.StoppedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert run %s: %w", rec.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, most recently stopped first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_epoch_seconds, duration_minutes, peak_rate_per_minute,
		       requests_sent, requests_failed, per_journey, stopped_reason, stopped_at
		FROM runs ORDER BY stopped_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RunRecord
	for rows.Next() {
		var rec model.RunRecord
		var perJourney string
		if err := rows.Scan(
			&rec.ID, &rec.StartEpochSeconds, &rec.DurationMinutes, &rec.PeakRatePerMinute,
			&rec.RequestsSent, &rec.RequestsFailed, &perJourney, &rec.StoppedReason, &rec.StoppedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(perJourney), &rec.PerJourney); err != nil {
			return nil, fmt.Errorf("history: unmarshal per-journey counts for %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate runs: %w", err)
	}
	return out, nil
}
