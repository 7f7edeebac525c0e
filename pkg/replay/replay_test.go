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

package replay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcp-tool-shop/nexus-router/pkg/adapter"
	"github.com/mcp-tool-shop/nexus-router/pkg/policy"
	"github.com/mcp-tool-shop/nexus-router/pkg/replay"
	"github.com/mcp-tool-shop/nexus-router/pkg/router"
	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

func runSample(t *testing.T) (store.Store, string) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := adapter.NewRegistry("fake")
	fake := adapter.NewFakeAdapter("fake")
	fake.OnCall("t", "ok", adapter.FakeResponse{Output: map[string]any{"done": true}})
	require.NoError(t, reg.Register(fake))

	rt := router.New(s, reg, policy.NewGate(), nil, nil)
	resp, err := rt.Run(context.Background(), router.Request{
		Goal:   "demo",
		Mode:   "apply",
		Policy: policy.Policy{AllowApply: true},
		PlanOverride: []router.PlanStep{
			{StepID: "s1", Call: router.Call{Tool: "t", Method: "ok"}},
		},
	})
	require.NoError(t, err)
	return s, resp.Run.RunID
}

func TestReplayOfCleanRunHasNoViolations(t *testing.T) {
	s, runID := runSample(t)
	checker := replay.NewChecker(s)

	result, err := checker.Replay(runID, true)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Empty(t, result.Violations)
	require.Len(t, result.View.Steps, 1)
	require.Equal(t, "ok", result.View.Steps[0].Status)
	require.Equal(t, "RUN_COMPLETED", result.View.Terminal.Type)
}

func TestReplayDetectsMissingRunStarted(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateRun("r1", "g", "dry_run", time.Now().UTC()))
	_, err = s.Append("r1", "PLAN_CREATED", map[string]any{"steps": []any{}})
	require.NoError(t, err)

	checker := replay.NewChecker(s)
	result, err := checker.Replay("r1", true)
	require.NoError(t, err)
	require.False(t, result.OK)

	found := false
	for _, v := range result.Violations {
		if v.Code == "MISSING_RUN_STARTED" {
			found = true
		}
	}
	require.True(t, found)
}

func TestReplayNonStrictReportsButDoesNotFail(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateRun("r1", "g", "dry_run", time.Now().UTC()))
	_, err = s.Append("r1", "PLAN_CREATED", map[string]any{"steps": []any{}})
	require.NoError(t, err)

	checker := replay.NewChecker(s)
	result, err := checker.Replay("r1", false)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.NotEmpty(t, result.Violations)
}

func TestQueryReadsRunGoalThroughJQ(t *testing.T) {
	s, runID := runSample(t)
	checker := replay.NewChecker(s)

	result, err := checker.Replay(runID, true)
	require.NoError(t, err)

	val, err := checker.Query(result.View, ".Run.Goal")
	require.NoError(t, err)
	require.Equal(t, "demo", val)
}
