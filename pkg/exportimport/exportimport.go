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

// Package exportimport implements the portable bundle protocol (spec
// §4.8, §6.4): a run and its event log serialize into a self-contained
// Bundle that another store can later import, conflict mode and all.
package exportimport

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcp-tool-shop/nexus-router/pkg/provenance"
	"github.com/mcp-tool-shop/nexus-router/pkg/replay"
	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

// Mode is a conflict resolution strategy for Import.
type Mode string

const (
	ModeRejectOnConflict Mode = "reject_on_conflict"
	ModeNewRunID         Mode = "new_run_id"
	ModeOverwrite        Mode = "overwrite"
)

// SchemaVersion is the Bundle wire format version (spec §6.4).
const SchemaVersion = "0.3"

var (
	// ErrDigestMismatch is returned when the bundle's provenance digest
	// does not match its recomputed value.
	ErrDigestMismatch = errors.New("exportimport: digest mismatch")
	// ErrRunExists is returned under ModeRejectOnConflict when run_id
	// already exists in the target store.
	ErrRunExists = errors.New("exportimport: run already exists")
	// ErrReplayFailed is returned when verify_replay finds a strict
	// invariant violation in the bundle being imported.
	ErrReplayFailed = errors.New("exportimport: replay verification failed")
	// ErrUnknownMode is returned for any Mode outside the closed set.
	ErrUnknownMode = errors.New("exportimport: unknown conflict mode")
)

// Bundle is the self-contained, portable unit spec §6.4 describes:
// everything needed to recreate a run in another store.
type Bundle struct {
	SchemaVersion string                 `json:"schema_version"`
	Run           store.Run              `json:"run"`
	Events        []store.Event          `json:"events"`
	Provenance    *provenance.Provenance `json:"provenance,omitempty"`
}

// Options configures Import.
type Options struct {
	Mode         Mode
	VerifyDigest bool
	VerifyReplay bool
}

// DefaultOptions matches spec §4.8's stated defaults.
func DefaultOptions(mode Mode) Options {
	return Options{Mode: mode, VerifyDigest: true, VerifyReplay: true}
}

// Export reads runID's run and events from s and emits a Bundle.
// Repeated exports of the same run produce byte-identical bundles
// (modulo the includeProvenance choice), since the underlying rows
// never change and provenance.Compute is itself deterministic.
func Export(s store.Store, runID string, includeProvenance bool) (Bundle, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return Bundle{}, fmt.Errorf("exportimport: loading run: %w", err)
	}
	events, err := s.IterEvents(runID)
	if err != nil {
		return Bundle{}, fmt.Errorf("exportimport: loading events: %w", err)
	}

	bundle := Bundle{SchemaVersion: SchemaVersion, Run: run, Events: events}
	if includeProvenance {
		prov, err := provenance.Compute(run, events)
		if err != nil {
			return Bundle{}, fmt.Errorf("exportimport: computing provenance: %w", err)
		}
		bundle.Provenance = &prov
	}
	return bundle, nil
}

// Import inserts bundle into s under the given options, per spec §4.8.
// Every existence check and remap happens before any write; the actual
// insert (optional delete-for-overwrite, run row, every event row) is
// then driven through bundleImporter.ImportBundle as one transaction, so
// a failure at any point — including partway through the event rows —
// leaves the store exactly as it was before Import was called.
func Import(s store.Store, bundle Bundle, opts Options) (runID string, err error) {
	switch opts.Mode {
	case ModeRejectOnConflict, ModeNewRunID, ModeOverwrite:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}

	importer, ok := s.(bundleImporter)
	if !ok {
		return "", fmt.Errorf("exportimport: store does not support transactional bundle import")
	}

	if opts.VerifyDigest && bundle.Provenance != nil {
		recomputed, err := provenance.Compute(bundle.Run, bundle.Events)
		if err != nil {
			return "", fmt.Errorf("exportimport: recomputing digest: %w", err)
		}
		if recomputed.Digest != bundle.Provenance.Digest {
			return "", fmt.Errorf("%w: bundle digest %s, recomputed %s", ErrDigestMismatch, bundle.Provenance.Digest, recomputed.Digest)
		}
	}

	run := bundle.Run
	events := cloneEvents(bundle.Events)

	_, getErr := s.GetRun(run.RunID)
	exists := getErr == nil

	deleteExisting := false
	switch opts.Mode {
	case ModeRejectOnConflict:
		if exists {
			return "", fmt.Errorf("%w: %s", ErrRunExists, run.RunID)
		}
	case ModeNewRunID:
		newID := uuid.NewString()
		remapRunID(&run, events, newID)
	case ModeOverwrite:
		deleteExisting = exists
	}

	if opts.VerifyReplay {
		if v, ok := verifyEvents(run, events); !ok {
			return "", fmt.Errorf("%w: %v", ErrReplayFailed, v)
		}
	}

	if err := importer.ImportBundle(run, events, deleteExisting); err != nil {
		return "", fmt.Errorf("exportimport: importing bundle: %w", err)
	}

	return run.RunID, nil
}

// bundleImporter is satisfied by stores that can insert a run plus its
// events, with caller-supplied event_id/seq/ts, as a single transaction
// (spec §4.8's atomicity requirement and its "preserving original seq
// and ts" remap contract).
type bundleImporter interface {
	ImportBundle(run store.Run, events []store.Event, deleteExisting bool) error
}

func cloneEvents(src []store.Event) []store.Event {
	out := make([]store.Event, len(src))
	copy(out, src)
	for i := range out {
		payload := make(map[string]any, len(src[i].Payload))
		for k, v := range src[i].Payload {
			payload[k] = v
		}
		out[i].Payload = payload
	}
	return out
}

// remapRunID rewrites run_id on the run header and every event,
// including nested payload references (spec §4.8 "if any event payload
// references the old run_id ... remap there too"), and allocates fresh
// event_ids to avoid global collisions.
func remapRunID(run *store.Run, events []store.Event, newRunID string) {
	oldRunID := run.RunID
	run.RunID = newRunID
	for i := range events {
		events[i].RunID = newRunID
		events[i].EventID = uuid.NewString()
		remapPayload(events[i].Payload, oldRunID, newRunID)
	}
}

func remapPayload(payload map[string]any, oldRunID, newRunID string) {
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			if val == oldRunID {
				payload[k] = newRunID
			}
		case map[string]any:
			remapPayload(val, oldRunID, newRunID)
		case []any:
			for _, item := range val {
				if nested, ok := item.(map[string]any); ok {
					remapPayload(nested, oldRunID, newRunID)
				}
			}
		}
	}
}

// verifyEvents runs the invariant checker over the (run, events) pair
// in memory, without touching the target store — Import hasn't written
// anything yet at the point this is called.
func verifyEvents(run store.Run, events []store.Event) ([]replay.Violation, bool) {
	mem := &memoryView{run: run, events: events}
	checker := replay.NewChecker(mem)
	result, err := checker.Replay(run.RunID, true)
	if err != nil {
		return []replay.Violation{{Code: "REPLAY_ERROR", Message: err.Error()}}, false
	}
	return result.Violations, result.OK
}
