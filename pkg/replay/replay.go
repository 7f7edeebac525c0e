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

// Package replay reconstructs a run's view from its event log and
// validates the ordering invariants spec §4.6 requires of it.
package replay

import (
	"fmt"

	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

// StepView is the reconstructed timeline of one plan step.
type StepView struct {
	StepID string
	Events []store.Event
	Status string // "ok" | "error" | "incomplete"
}

// View is the reconstructed run: header plus ordered step timeline.
type View struct {
	Run     store.Run
	Steps   []StepView
	Terminal *store.Event // RUN_COMPLETED or RUN_FAILED, nil if absent
}

// Violation is one failed invariant, independent of whether it flips
// Result.OK (spec §4.6 "absent strict mode violations are still
// reported").
type Violation struct {
	Code    string
	Message string
}

// Result is the outcome of one Replay call.
type Result struct {
	View       View
	Violations []Violation
	OK         bool
}

// Checker reconstructs views and validates invariants for one store.
type Checker struct {
	Store store.Store
}

// NewChecker builds a Checker over s.
func NewChecker(s store.Store) *Checker {
	return &Checker{Store: s}
}

// Replay reconstructs runID's view and checks every invariant in spec
// §4.6. When strict is true, any violation makes Result.OK false;
// otherwise violations are reported but OK stays true.
func (c *Checker) Replay(runID string, strict bool) (Result, error) {
	run, err := c.Store.GetRun(runID)
	if err != nil {
		return Result{}, fmt.Errorf("replay: loading run: %w", err)
	}
	events, err := c.Store.IterEvents(runID)
	if err != nil {
		return Result{}, fmt.Errorf("replay: loading events: %w", err)
	}

	var violations []Violation
	violations = append(violations, checkSequence(events)...)
	violations = append(violations, checkRunStarted(events)...)
	violations = append(violations, checkPlanAfterStart(events)...)
	violations = append(violations, checkTerminal(events)...)
	violations = append(violations, checkToolCallFields(events)...)
	violations = append(violations, checkDispatchConsistency(events)...)

	steps, stepViolations := buildStepViews(events)
	violations = append(violations, stepViolations...)

	view := View{Run: run, Steps: steps, Terminal: terminalEvent(events)}

	ok := true
	if strict {
		ok = len(violations) == 0
	}

	return Result{View: view, Violations: violations, OK: ok}, nil
}

func checkSequence(events []store.Event) []Violation {
	var v []Violation
	for i, ev := range events {
		if ev.Seq != i {
			v = append(v, Violation{Code: "SEQ_NOT_CONTIGUOUS", Message: fmt.Sprintf("event at index %d has seq %d, expected %d", i, ev.Seq, i)})
		}
	}
	return v
}

func checkRunStarted(events []store.Event) []Violation {
	if len(events) == 0 {
		return []Violation{{Code: "MISSING_RUN_STARTED", Message: "run has no events"}}
	}
	if events[0].Type != "RUN_STARTED" || events[0].Seq != 0 {
		return []Violation{{Code: "MISSING_RUN_STARTED", Message: "RUN_STARTED does not exist at seq 0"}}
	}
	count := 0
	for _, ev := range events {
		if ev.Type == "RUN_STARTED" {
			count++
		}
	}
	if count != 1 {
		return []Violation{{Code: "DUPLICATE_RUN_STARTED", Message: fmt.Sprintf("expected exactly one RUN_STARTED, found %d", count)}}
	}
	return nil
}

func checkPlanAfterStart(events []store.Event) []Violation {
	startSeq, planSeq := -1, -1
	for _, ev := range events {
		switch ev.Type {
		case "RUN_STARTED":
			startSeq = ev.Seq
		case "PLAN_CREATED":
			planSeq = ev.Seq
		}
	}
	if planSeq == -1 {
		return []Violation{{Code: "MISSING_PLAN_CREATED", Message: "no PLAN_CREATED event"}}
	}
	if startSeq == -1 || planSeq <= startSeq {
		return []Violation{{Code: "PLAN_BEFORE_START", Message: "PLAN_CREATED does not follow RUN_STARTED"}}
	}
	return nil
}

func checkTerminal(events []store.Event) []Violation {
	var terminals []store.Event
	for _, ev := range events {
		if ev.Type == "RUN_COMPLETED" || ev.Type == "RUN_FAILED" {
			terminals = append(terminals, ev)
		}
	}
	if len(terminals) != 1 {
		return []Violation{{Code: "TERMINAL_COUNT", Message: fmt.Sprintf("expected exactly one terminal event, found %d", len(terminals))}}
	}
	if len(events) == 0 || terminals[0].Seq != events[len(events)-1].Seq {
		return []Violation{{Code: "TERMINAL_NOT_LAST", Message: "terminal event is not the highest seq"}}
	}
	return nil
}

func checkToolCallFields(events []store.Event) []Violation {
	var v []Violation
	for _, ev := range events {
		if ev.Type != "TOOL_CALL_REQUESTED" {
			continue
		}
		if _, ok := ev.Payload["adapter_id"]; !ok {
			v = append(v, Violation{Code: "TOOL_CALL_MISSING_ADAPTER_ID", Message: fmt.Sprintf("seq %d missing adapter_id", ev.Seq)})
		}
		if _, ok := ev.Payload["adapter_capabilities"]; !ok {
			v = append(v, Violation{Code: "TOOL_CALL_MISSING_CAPABILITIES", Message: fmt.Sprintf("seq %d missing adapter_capabilities", ev.Seq)})
		}
	}
	return v
}

func checkDispatchConsistency(events []store.Event) []Violation {
	var selectedID string
	var have bool
	var v []Violation
	for _, ev := range events {
		switch ev.Type {
		case "DISPATCH_SELECTED":
			if id, ok := ev.Payload["adapter_id"].(string); ok {
				selectedID, have = id, true
			}
		case "TOOL_CALL_REQUESTED":
			if !have {
				continue
			}
			id, _ := ev.Payload["adapter_id"].(string)
			if id != selectedID {
				v = append(v, Violation{Code: "DISPATCH_MISMATCH", Message: fmt.Sprintf("seq %d adapter_id %q does not match DISPATCH_SELECTED %q", ev.Seq, id, selectedID)})
			}
		}
	}
	return v
}

func buildStepViews(events []store.Event) ([]StepView, []Violation) {
	order := []string{}
	byStep := map[string][]store.Event{}
	for _, ev := range events {
		stepID, ok := ev.Payload["step_id"].(string)
		if !ok || ev.Type == "PLAN_CREATED" {
			continue
		}
		if _, seen := byStep[stepID]; !seen {
			order = append(order, stepID)
		}
		byStep[stepID] = append(byStep[stepID], ev)
	}
	// order already reflects execution order: events arrive in ascending
	// seq, so a step_id is appended to order the first time it's seen,
	// which is always its STEP_STARTED.

	var views []StepView
	var violations []Violation
	for _, stepID := range order {
		stepEvents := byStep[stepID]
		started, completed := 0, 0
		var startSeq, completeSeq int = -1, -1
		status := "incomplete"
		for _, ev := range stepEvents {
			switch ev.Type {
			case "STEP_STARTED":
				started++
				startSeq = ev.Seq
			case "STEP_COMPLETED":
				completed++
				completeSeq = ev.Seq
				if s, ok := ev.Payload["status"].(string); ok {
					status = s
				}
			}
		}
		if started != 1 {
			violations = append(violations, Violation{Code: "STEP_STARTED_COUNT", Message: fmt.Sprintf("step %q has %d STEP_STARTED events, expected 1", stepID, started)})
		}
		if completed != 1 {
			violations = append(violations, Violation{Code: "STEP_COMPLETED_COUNT", Message: fmt.Sprintf("step %q has %d STEP_COMPLETED events, expected 1", stepID, completed)})
		}
		if startSeq != -1 && completeSeq != -1 {
			for _, ev := range stepEvents {
				if ev.Type == "TOOL_CALL_REQUESTED" || ev.Type == "TOOL_CALL_SUCCEEDED" || ev.Type == "TOOL_CALL_FAILED" {
					if ev.Seq <= startSeq || ev.Seq >= completeSeq {
						violations = append(violations, Violation{Code: "TOOL_CALL_OUT_OF_BOUNDS", Message: fmt.Sprintf("step %q event %s at seq %d falls outside [%d,%d]", stepID, ev.Type, ev.Seq, startSeq, completeSeq)})
					}
				}
			}
		}

		views = append(views, StepView{StepID: stepID, Events: stepEvents, Status: status})
	}
	return views, violations
}

func terminalEvent(events []store.Event) *store.Event {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == "RUN_COMPLETED" || events[i].Type == "RUN_FAILED" {
			ev := events[i]
			return &ev
		}
	}
	return nil
}
