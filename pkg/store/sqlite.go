// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the pure-Go SQLite-backed event store. Path ":memory:"
// (or "" ) gives an ephemeral store scoped to the process.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex // serializes seq allocation within this process
	closed bool
}

// Open acquires a store at path, running migrations and configuring
// pragmas, with guaranteed release via Close on every exit path the
// caller takes (spec §4.1 "scoped acquisition").
func Open(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	// SQLite serializes writers; a single connection keeps writes
	// ordered without an external lock for the common single-process case.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connecting to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: executing %s: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			goal TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			ts TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			UNIQUE(run_id, seq),
			FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("store: migration failed: %w", err)
		}
	}
	return nil
}

// CreateRun implements Store.
func (s *SQLiteStore) CreateRun(runID, goal, mode string, ts time.Time) error {
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, goal, mode, status, created_at) VALUES (?, ?, ?, 'running', ?)`,
		runID, goal, mode, ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRunExists
		}
		return fmt.Errorf("store: creating run: %w", err)
	}
	return nil
}

// SetStatus implements Store.
func (s *SQLiteStore) SetStatus(runID, status string) error {
	if s.closed {
		return ErrClosed
	}

	res, err := s.db.Exec(`UPDATE runs SET status = ? WHERE run_id = ?`, status, runID)
	if err != nil {
		return fmt.Errorf("store: setting status: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Append implements Store. Sequence allocation happens inside a single
// transaction: max(seq)+1 for the run, guarded by the events table's
// UNIQUE(run_id, seq) constraint against concurrent writers.
func (s *SQLiteStore) Append(runID, eventType string, payload map[string]any) (Event, error) {
	if s.closed {
		return Event{}, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("store: marshaling payload: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Event{}, fmt.Errorf("store: starting transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM events WHERE run_id = ?`, runID).Scan(&maxSeq); err != nil {
		return Event{}, fmt.Errorf("store: allocating sequence: %w", err)
	}
	nextSeq := 0
	if maxSeq.Valid {
		nextSeq = int(maxSeq.Int64) + 1
	}

	eventID := newEventID()
	ts := time.Now().UTC()

	_, err = tx.Exec(
		`INSERT INTO events (event_id, run_id, seq, type, ts, payload_json) VALUES (?, ?, ?, ?, ?, ?)`,
		eventID, runID, nextSeq, eventType, ts.Format(time.RFC3339Nano), string(payloadJSON),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Event{}, ErrSequenceConflict
		}
		return Event{}, fmt.Errorf("store: inserting event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("store: committing event: %w", err)
	}

	return Event{
		EventID: eventID,
		RunID:   runID,
		Seq:     nextSeq,
		Type:    eventType,
		TS:      ts,
		Payload: payload,
	}, nil
}

// IterEvents implements Store.
func (s *SQLiteStore) IterEvents(runID string) ([]Event, error) {
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(
		`SELECT event_id, run_id, seq, type, ts, payload_json FROM events WHERE run_id = ? ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: listing events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(runID string) (Run, error) {
	if s.closed {
		return Run{}, ErrClosed
	}

	var run Run
	var createdAt string
	err := s.db.QueryRow(
		`SELECT run_id, goal, mode, status, created_at FROM runs WHERE run_id = ?`,
		runID,
	).Scan(&run.RunID, &run.Goal, &run.Mode, &run.Status, &createdAt)
	if err == sql.ErrNoRows {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: getting run: %w", err)
	}

	run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("store: parsing created_at: %w", err)
	}
	return run, nil
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(filter ListFilter) ([]Run, Counts, error) {
	if s.closed {
		return nil, Counts{}, ErrClosed
	}

	query := `SELECT run_id, goal, mode, status, created_at FROM runs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, Counts{}, fmt.Errorf("store: listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var createdAt string
		if err := rows.Scan(&run.RunID, &run.Goal, &run.Mode, &run.Status, &createdAt); err != nil {
			return nil, Counts{}, fmt.Errorf("store: scanning run: %w", err)
		}
		run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, Counts{}, fmt.Errorf("store: parsing created_at: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, Counts{}, err
	}

	counts, err := s.countByStatus()
	if err != nil {
		return nil, Counts{}, err
	}

	return runs, counts, nil
}

func (s *SQLiteStore) countByStatus() (Counts, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("store: counting runs: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		c.Total += n
		switch status {
		case "completed":
			c.Completed = n
		case "failed":
			c.Failed = n
		case "running":
			c.Running = n
		}
	}
	return c, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}

// ImportBundle inserts run and events as a single transaction: an
// optional delete of any existing run_id (for the overwrite conflict
// mode), the run row insert, and every event row insert (with
// caller-supplied event_id/seq/ts, preserving a bundle's original
// metadata rather than allocating fresh values, per spec §4.8
// "preserving original seq and ts"). Any failure at any point rolls
// back the entire transaction, leaving the store exactly as it was
// before the call — the atomicity spec §4.8 requires of Import.
// Bypasses Append's sequence-allocation path entirely; callers are
// responsible for supplying a contiguous, non-conflicting sequence.
func (s *SQLiteStore) ImportBundle(run Run, events []Event, deleteExisting bool) error {
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: starting import transaction: %w", err)
	}
	defer tx.Rollback()

	if deleteExisting {
		if _, err := tx.Exec(`DELETE FROM runs WHERE run_id = ?`, run.RunID); err != nil {
			return fmt.Errorf("store: deleting existing run: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, goal, mode, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.Goal, run.Mode, run.Status, run.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		if isUniqueViolation(err) {
			return ErrRunExists
		}
		return fmt.Errorf("store: inserting imported run: %w", err)
	}

	for _, ev := range events {
		payloadJSON, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("store: marshaling payload: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO events (event_id, run_id, seq, type, ts, payload_json) VALUES (?, ?, ?, ?, ?, ?)`,
			ev.EventID, ev.RunID, ev.Seq, ev.Type, ev.TS.UTC().Format(time.RFC3339Nano), string(payloadJSON),
		); err != nil {
			if isUniqueViolation(err) {
				return ErrSequenceConflict
			}
			return fmt.Errorf("store: importing event %s: %w", ev.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing import: %w", err)
	}
	return nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var ts, payloadJSON string
	if err := rows.Scan(&ev.EventID, &ev.RunID, &ev.Seq, &ev.Type, &ts, &payloadJSON); err != nil {
		return Event{}, fmt.Errorf("store: scanning event: %w", err)
	}
	var err error
	ev.TS, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Event{}, fmt.Errorf("store: parsing event ts: %w", err)
	}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
			return Event{}, fmt.Errorf("store: unmarshaling payload: %w", err)
		}
	}
	return ev, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "constraint failed: UNIQUE")
}
