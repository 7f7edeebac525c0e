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

package provenance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcp-tool-shop/nexus-router/pkg/provenance"
	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

func sampleRunAndEvents() (store.Run, []store.Event) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := store.Run{RunID: "r1", Goal: "demo", Mode: "dry_run", Status: "completed", CreatedAt: created}
	events := []store.Event{
		{EventID: "e0", RunID: "r1", Seq: 0, Type: "RUN_STARTED", TS: created, Payload: map[string]any{"goal": "demo"}},
		{EventID: "e1", RunID: "r1", Seq: 1, Type: "RUN_COMPLETED", TS: created, Payload: map[string]any{"summary": map[string]any{"steps_total": 0}}},
	}
	return run, events
}

func TestComputeIsStableAcrossRepeatedCalls(t *testing.T) {
	run, events := sampleRunAndEvents()

	p1, err := provenance.Compute(run, events)
	require.NoError(t, err)
	p2, err := provenance.Compute(run, events)
	require.NoError(t, err)

	require.Equal(t, p1.Digest, p2.Digest)
	require.Equal(t, provenance.MethodID, p1.MethodID)
	require.Len(t, p1.Digest, 64)
}

func TestComputeChangesWithPayload(t *testing.T) {
	run, events := sampleRunAndEvents()
	p1, err := provenance.Compute(run, events)
	require.NoError(t, err)

	events[1].Payload["summary"].(map[string]any)["steps_total"] = 1
	p2, err := provenance.Compute(run, events)
	require.NoError(t, err)

	require.NotEqual(t, p1.Digest, p2.Digest)
}

func TestComputeIsIndependentOfMapIterationOrder(t *testing.T) {
	run, events := sampleRunAndEvents()
	events[0].Payload = map[string]any{"goal": "demo", "extra": map[string]any{"b": 1, "a": 2}}

	p1, err := provenance.Compute(run, events)
	require.NoError(t, err)
	p2, err := provenance.Compute(run, events)
	require.NoError(t, err)

	require.Equal(t, p1.Digest, p2.Digest)
}
