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

// Package store implements the append-only event log: monotonically
// sequenced per-run persistence backed by modernc.org/sqlite (spec
// §4.1, §6.5). It is the only writer of event and run rows; the
// router is the only caller that drives it through a run's lifetime.
package store

import (
	"errors"
	"time"
)

// Run is the persisted run header (spec §3).
type Run struct {
	RunID     string
	Goal      string
	Mode      string // "dry_run" | "apply"
	Status    string // "running" | "completed" | "failed"
	CreatedAt time.Time
}

// Event is one immutable, ordered row of the per-run event log.
type Event struct {
	EventID string
	RunID   string
	Seq     int
	Type    string
	TS      time.Time
	Payload map[string]any
}

// ListFilter narrows ListRuns.
type ListFilter struct {
	Status string
	Since  time.Time
	Limit  int
	Offset int
}

// Counts summarizes every run in the store by status, independent of
// every ListFilter field.
type Counts struct {
	Total     int
	Completed int
	Failed    int
	Running   int
}

// Sentinel errors surfaced by Store implementations. The router is
// responsible for translating ErrSequenceConflict and any other
// store-layer failure into a bug error (spec §4.9, §7): a failure to
// append is always a bug, never recoverable at step scope.
var (
	ErrRunExists         = errors.New("store: run already exists")
	ErrRunNotFound       = errors.New("store: run not found")
	ErrSequenceConflict  = errors.New("store: sequence conflict")
	ErrClosed            = errors.New("store: store is closed")
)

// Store is the append-only event log contract (spec §4.1).
type Store interface {
	// CreateRun inserts the run row. Fails with ErrRunExists if run_id
	// is already present.
	CreateRun(runID, goal, mode string, ts time.Time) error

	// SetStatus updates the status column. Idempotent for equal values.
	SetStatus(runID, status string) error

	// Append assigns the next seq for runID atomically and inserts the
	// event row. Fails with ErrSequenceConflict if a concurrent writer
	// advanced the run between seq allocation and insert.
	Append(runID, eventType string, payload map[string]any) (Event, error)

	// IterEvents returns every event for runID in ascending seq order.
	IterEvents(runID string) ([]Event, error)

	// GetRun returns the run header, or ErrRunNotFound.
	GetRun(runID string) (Run, error)

	// ListRuns returns runs matching filter plus status counts over
	// every run in the store; the counts ignore status, since, limit and
	// offset alike.
	ListRuns(filter ListFilter) ([]Run, Counts, error)

	// Close releases the underlying connection.
	Close() error
}
