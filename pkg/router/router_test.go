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

package router_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcp-tool-shop/nexus-router/pkg/adapter"
	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
	"github.com/mcp-tool-shop/nexus-router/pkg/coreerr"
	"github.com/mcp-tool-shop/nexus-router/pkg/policy"
	"github.com/mcp-tool-shop/nexus-router/pkg/router"
	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

func newTestRouter(t *testing.T, reg *adapter.Registry) (*router.Router, store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rt := router.New(s, reg, policy.NewGate(), nil, nil)
	return rt, s
}

func defaultRegistry(t *testing.T) *adapter.Registry {
	t.Helper()
	reg := adapter.NewRegistry("null")
	require.NoError(t, reg.Register(adapter.NewNullAdapter("null")))
	return reg
}

func TestDryRunEmptyPlanProducesExpectedEvents(t *testing.T) {
	reg := defaultRegistry(t)
	rt, s := newTestRouter(t, reg)

	resp, err := rt.Run(context.Background(), router.Request{Goal: "demo", Mode: "dry_run"})
	require.NoError(t, err)
	require.Equal(t, "completed", resp.Run.Status)
	require.Equal(t, 0, resp.Summary.StepsTotal)
	require.Nil(t, resp.Error)

	events, err := s.IterEvents(resp.Run.RunID)
	require.NoError(t, err)
	types := eventTypes(events)
	require.Equal(t, []string{"RUN_STARTED", "DISPATCH_SELECTED", "PLAN_CREATED", "RUN_COMPLETED"}, types)
	require.Equal(t, "null", events[1].Payload["adapter_id"])
	require.Equal(t, "default", events[1].Payload["selection_source"])
}

func TestApplyDeniedByPolicyStopsBeforeAnySteps(t *testing.T) {
	reg := defaultRegistry(t)
	require.NoError(t, reg.Register(adapter.NewFakeAdapter("fake")))
	rt, s := newTestRouter(t, reg)

	resp, err := rt.Run(context.Background(), router.Request{
		Goal:     "x",
		Mode:     "apply",
		Policy:   policy.Policy{AllowApply: false},
		Dispatch: router.DispatchRequest{AdapterID: "fake"},
		PlanOverride: []router.PlanStep{
			{StepID: "s1", Call: router.Call{Tool: "t", Method: "m", Args: map[string]any{}}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "failed", resp.Run.Status)
	require.Equal(t, string(coreerr.CodePolicyDenied), resp.Error.ErrorCode)

	events, err := s.IterEvents(resp.Run.RunID)
	require.NoError(t, err)
	for _, ev := range events {
		require.NotEqual(t, "STEP_STARTED", ev.Type)
	}
}

func TestCapabilityMissingWhenNullAdapterSelectedForApply(t *testing.T) {
	reg := defaultRegistry(t)
	rt, s := newTestRouter(t, reg)

	resp, err := rt.Run(context.Background(), router.Request{
		Goal:     "x",
		Mode:     "apply",
		Policy:   policy.Policy{AllowApply: true},
		Dispatch: router.DispatchRequest{AdapterID: "null"},
	})
	require.NoError(t, err)
	require.Equal(t, "failed", resp.Run.Status)
	require.Equal(t, string(coreerr.CodeCapabilityMissing), resp.Error.ErrorCode)
	require.Equal(t, string(capability.Apply), resp.Error.Details["required_capability"])

	events, err := s.IterEvents(resp.Run.RunID)
	require.NoError(t, err)
	types := eventTypes(events)
	require.Equal(t, []string{"RUN_STARTED", "RUN_FAILED"}, types)
}

func TestOperationalFailureMidPlanContinuesToNextStep(t *testing.T) {
	reg := adapter.NewRegistry("fake")
	fake := adapter.NewFakeAdapter("fake")
	fake.OnCall("t", "fail", adapter.FakeResponse{Err: coreerr.NewOperational(coreerr.CodeTimeout, "timed out", nil)})
	fake.OnCall("t", "ok", adapter.FakeResponse{Output: map[string]any{"done": true}})
	require.NoError(t, reg.Register(fake))

	rt, s := newTestRouter(t, reg)

	resp, err := rt.Run(context.Background(), router.Request{
		Goal:   "x",
		Mode:   "apply",
		Policy: policy.Policy{AllowApply: true},
		PlanOverride: []router.PlanStep{
			{StepID: "s1", Call: router.Call{Tool: "t", Method: "fail"}},
			{StepID: "s2", Call: router.Call{Tool: "t", Method: "ok"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "completed", resp.Run.Status)
	require.Equal(t, 1, resp.Summary.StepsOk)
	require.Equal(t, 1, resp.Summary.StepsError)

	events, err := s.IterEvents(resp.Run.RunID)
	require.NoError(t, err)
	types := eventTypes(events)
	require.Contains(t, types, "TOOL_CALL_FAILED")
	require.Contains(t, types, "TOOL_CALL_SUCCEEDED")
	require.Equal(t, "RUN_COMPLETED", types[len(types)-1])
}

func TestBugErrorTerminatesRunAndIsReRaised(t *testing.T) {
	reg := adapter.NewRegistry("fake")
	fake := adapter.NewFakeAdapter("fake")
	fake.OnCall("t", "boom", adapter.FakeResponse{Err: coreerr.NewBug(coreerr.CodeBugError, "invariant violated", nil)})
	require.NoError(t, reg.Register(fake))

	rt, s := newTestRouter(t, reg)

	resp, err := rt.Run(context.Background(), router.Request{
		Goal:   "x",
		Mode:   "apply",
		Policy: policy.Policy{AllowApply: true},
		PlanOverride: []router.PlanStep{
			{StepID: "s1", Call: router.Call{Tool: "t", Method: "boom"}},
		},
	})
	require.Error(t, err)
	require.Equal(t, "failed", resp.Run.Status)

	events, err2 := s.IterEvents(resp.Run.RunID)
	require.NoError(t, err2)
	types := eventTypes(events)
	require.Equal(t, "TOOL_CALL_FAILED", types[len(types)-3])
	require.Equal(t, "STEP_COMPLETED", types[len(types)-2])
	require.Equal(t, "RUN_FAILED", types[len(types)-1])
}

func TestDryRunNeverInvokesAdapter(t *testing.T) {
	reg := adapter.NewRegistry("fake")
	fake := adapter.NewFakeAdapter("fake")
	require.NoError(t, reg.Register(fake))

	rt, _ := newTestRouter(t, reg)

	_, err := rt.Run(context.Background(), router.Request{
		Goal: "x",
		Mode: "dry_run",
		PlanOverride: []router.PlanStep{
			{StepID: "s1", Call: router.Call{Tool: "t", Method: "m"}},
		},
	})
	require.NoError(t, err)
	require.Empty(t, fake.Invocations())
}

func eventTypes(events []store.Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
