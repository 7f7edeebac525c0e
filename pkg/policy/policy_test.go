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

package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcp-tool-shop/nexus-router/pkg/coreerr"
	"github.com/mcp-tool-shop/nexus-router/pkg/policy"
)

func TestGateAllowsDryRunEvenWhenApplyDisallowed(t *testing.T) {
	g := policy.NewGate()
	err := g.Check(policy.Policy{AllowApply: false}, "dry_run", 3)
	require.NoError(t, err)
}

func TestGateDeniesApplyWhenNotAllowed(t *testing.T) {
	g := policy.NewGate()
	err := g.Check(policy.Policy{AllowApply: false}, "apply", 1)
	require.Error(t, err)

	opErr, ok := coreerr.AsOperational(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodePolicyDenied, opErr.ErrorCode)
}

func TestGateDeniesPlanExceedingMaxSteps(t *testing.T) {
	g := policy.NewGate()
	err := g.Check(policy.Policy{AllowApply: true, MaxSteps: 2}, "apply", 3)
	require.Error(t, err)

	opErr, ok := coreerr.AsOperational(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodeMaxStepsExceeded, opErr.ErrorCode)
}

func TestGateAllowsPlanAtMaxSteps(t *testing.T) {
	g := policy.NewGate()
	err := g.Check(policy.Policy{AllowApply: true, MaxSteps: 3}, "apply", 3)
	require.NoError(t, err)
}

func TestGateEvaluatesRules(t *testing.T) {
	g := policy.NewGate()
	pol := policy.Policy{
		AllowApply: true,
		Rules:      []string{`mode == "apply" ? plan_len <= 5 : true`},
	}

	require.NoError(t, g.Check(pol, "apply", 5))

	err := g.Check(pol, "apply", 6)
	require.Error(t, err)
	opErr, ok := coreerr.AsOperational(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodePolicyDenied, opErr.ErrorCode)
}

func TestGateRejectsUncompilableRule(t *testing.T) {
	g := policy.NewGate()
	pol := policy.Policy{AllowApply: true, Rules: []string{"this is not valid expr syntax ((("}}

	err := g.Check(pol, "dry_run", 1)
	require.Error(t, err)

	opErr, ok := coreerr.AsOperational(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodePolicyDenied, opErr.ErrorCode)
}

func TestGateWithGoalExposesGoalToRules(t *testing.T) {
	g := policy.NewGate()
	pol := policy.Policy{
		AllowApply: true,
		Rules:      []string{`goal != ""`},
	}

	require.NoError(t, g.CheckWithGoal(pol, "clean up temp files", "dry_run", 1))
	require.Error(t, g.CheckWithGoal(pol, "", "dry_run", 1))
}

func TestEvaluatorCachesCompiledPrograms(t *testing.T) {
	e := policy.NewEvaluator()
	_, err := e.Evaluate(`plan_len > 0`, map[string]any{"plan_len": 1})
	require.NoError(t, err)
	_, err = e.Evaluate(`plan_len > 0`, map[string]any{"plan_len": 2})
	require.NoError(t, err)
	require.Equal(t, 1, e.CacheSize())
}

func TestEvaluatorEmptyExpressionIsVacuouslyTrue(t *testing.T) {
	e := policy.NewEvaluator()
	ok, err := e.Evaluate("", nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluatorRejectsNonBooleanResult(t *testing.T) {
	e := policy.NewEvaluator()
	_, err := e.Evaluate(`1 + 1`, nil)
	require.Error(t, err)
}
