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

package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateRunThenGetRun(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.CreateRun("r1", "demo", "dry_run", now))

	run, err := s.GetRun("r1")
	require.NoError(t, err)
	require.Equal(t, "r1", run.RunID)
	require.Equal(t, "demo", run.Goal)
	require.Equal(t, "running", run.Status)
}

func TestCreateRunRejectsDuplicateID(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateRun("r1", "demo", "dry_run", time.Now()))

	err := s.CreateRun("r1", "demo2", "dry_run", time.Now())
	require.ErrorIs(t, err, store.ErrRunExists)
}

func TestGetRunMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun("missing")
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestAppendAllocatesContiguousSequence(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateRun("r1", "demo", "dry_run", time.Now()))

	ev0, err := s.Append("r1", "RUN_STARTED", map[string]any{"goal": "demo"})
	require.NoError(t, err)
	require.Equal(t, 0, ev0.Seq)

	ev1, err := s.Append("r1", "PLAN_CREATED", map[string]any{"steps": []any{}})
	require.NoError(t, err)
	require.Equal(t, 1, ev1.Seq)

	events, err := s.IterEvents("r1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, 0, events[0].Seq)
	require.Equal(t, 1, events[1].Seq)
	require.Equal(t, "demo", events[0].Payload["goal"])
}

func TestAppendSequencesAreIndependentPerRun(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateRun("r1", "g1", "dry_run", time.Now()))
	require.NoError(t, s.CreateRun("r2", "g2", "dry_run", time.Now()))

	ev, err := s.Append("r1", "RUN_STARTED", nil)
	require.NoError(t, err)
	require.Equal(t, 0, ev.Seq)

	ev, err = s.Append("r2", "RUN_STARTED", nil)
	require.NoError(t, err)
	require.Equal(t, 0, ev.Seq)
}

func TestSetStatusIsIdempotentAndRejectsMissingRun(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateRun("r1", "demo", "dry_run", time.Now()))

	require.NoError(t, s.SetStatus("r1", "completed"))
	require.NoError(t, s.SetStatus("r1", "completed"))

	run, err := s.GetRun("r1")
	require.NoError(t, err)
	require.Equal(t, "completed", run.Status)

	err = s.SetStatus("missing", "completed")
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestListRunsFiltersAndCounts(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateRun("r1", "g1", "dry_run", time.Now()))
	require.NoError(t, s.CreateRun("r2", "g2", "dry_run", time.Now()))
	require.NoError(t, s.SetStatus("r2", "completed"))

	runs, counts, err := s.ListRuns(store.ListFilter{Status: "completed"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "r2", runs[0].RunID)

	require.Equal(t, 2, counts.Total)
	require.Equal(t, 1, counts.Completed)
	require.Equal(t, 1, counts.Running)
}

func TestIterEventsReturnsEmptyForUnknownRun(t *testing.T) {
	s := openTestStore(t)
	events, err := s.IterEvents("nope")
	require.NoError(t, err)
	require.Empty(t, events)
}
