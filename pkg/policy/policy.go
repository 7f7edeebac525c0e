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

// Package policy implements the policy gate evaluated after dispatch
// selection and before plan creation (spec §4.4): allow_apply and
// max_steps, plus an optional set of expr-lang rule predicates.
package policy

import (
	"fmt"

	"github.com/mcp-tool-shop/nexus-router/pkg/coreerr"
)

// Policy is the request's policy block.
type Policy struct {
	AllowApply bool
	MaxSteps   int // 0 means unbounded

	// Rules is an optional set of boolean expr-lang expressions evaluated
	// against {goal, mode, plan_len}. Any rule that evaluates false, or
	// fails to compile/run, denies the request.
	Rules []string
}

// Gate evaluates policy for one run.
type Gate struct {
	evaluator *Evaluator
}

// NewGate constructs a Gate backed by a fresh Evaluator.
func NewGate() *Gate {
	return &Gate{evaluator: NewEvaluator()}
}

// Check evaluates pol against the requested mode and plan length. On
// denial it returns an *coreerr.OperationalError whose ErrorCode is
// POLICY_DENIED or MAX_STEPS_EXCEEDED, ready to be carried verbatim into
// a RUN_FAILED payload. Rules that reference `goal` see it as ""; use
// CheckWithGoal when the request goal itself matters to a rule.
func (g *Gate) Check(pol Policy, mode string, planLen int) error {
	return g.CheckWithGoal(pol, "", mode, planLen)
}

// CheckWithGoal is Check extended with the request goal, for rules that
// reference it (e.g. `goal != ""`).
func (g *Gate) CheckWithGoal(pol Policy, goal, mode string, planLen int) error {
	if mode == "apply" && !pol.AllowApply {
		return coreerr.NewOperational(coreerr.CodePolicyDenied, "apply mode is not allowed by policy", map[string]any{
			"mode": mode,
		})
	}
	if pol.MaxSteps > 0 && planLen > pol.MaxSteps {
		return coreerr.NewOperational(coreerr.CodeMaxStepsExceeded, fmt.Sprintf("plan has %d steps, exceeding max_steps %d", planLen, pol.MaxSteps), map[string]any{
			"plan_len":  planLen,
			"max_steps": pol.MaxSteps,
		})
	}

	for _, rule := range pol.Rules {
		ok, err := g.evaluator.Evaluate(rule, map[string]any{
			"goal":     goal,
			"mode":     mode,
			"plan_len": planLen,
		})
		if err != nil {
			return coreerr.NewOperational(coreerr.CodePolicyDenied, fmt.Sprintf("policy rule failed to evaluate: %s", err), map[string]any{
				"rule": rule,
			})
		}
		if !ok {
			return coreerr.NewOperational(coreerr.CodePolicyDenied, fmt.Sprintf("policy rule denied the request: %s", rule), map[string]any{
				"rule": rule,
			})
		}
	}

	return nil
}
