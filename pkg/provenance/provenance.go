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

// Package provenance computes the portable content digest of a run
// (spec §4.7): sha256-hex over the canonical JSON encoding of
// {run, events in seq order}.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mcp-tool-shop/nexus-router/internal/canon"
	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

// MethodID identifies the digest method for forward compatibility.
const MethodID = "sha256-canon-json-v1"

// Provenance is a run's portable content identity.
type Provenance struct {
	Digest   string
	MethodID string
}

// Compute derives the digest of run+events. Events must already be in
// ascending seq order (store.IterEvents guarantees this); Compute does
// not re-sort them, since a caller-supplied reordering is itself an
// invariant violation the replay checker should catch, not silently fix.
func Compute(run store.Run, events []store.Event) (Provenance, error) {
	runObj := map[string]any{
		"run_id":     run.RunID,
		"goal":       run.Goal,
		"mode":       run.Mode,
		"status":     run.Status,
		"created_at": run.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
	}

	eventObjs := make([]any, 0, len(events))
	for _, ev := range events {
		eventObjs = append(eventObjs, map[string]any{
			"event_id": ev.EventID,
			"run_id":   ev.RunID,
			"seq":      ev.Seq,
			"type":     ev.Type,
			"ts":       ev.TS.UTC().Format("2006-01-02T15:04:05.000000000Z"),
			"payload":  ev.Payload,
		})
	}

	combined := map[string]any{
		"run":    runObj,
		"events": eventObjs,
	}

	encoded, err := canon.Marshal(combined)
	if err != nil {
		return Provenance{}, fmt.Errorf("provenance: canonicalizing run: %w", err)
	}

	sum := sha256.Sum256(encoded)
	return Provenance{
		Digest:   hex.EncodeToString(sum[:]),
		MethodID: MethodID,
	}, nil
}
