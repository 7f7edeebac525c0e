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

package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcp-tool-shop/nexus-router/internal/redact"
	"github.com/mcp-tool-shop/nexus-router/pkg/adapter"
	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
	"github.com/mcp-tool-shop/nexus-router/pkg/coreerr"
	"github.com/mcp-tool-shop/nexus-router/pkg/observability"
	"github.com/mcp-tool-shop/nexus-router/pkg/policy"
	"github.com/mcp-tool-shop/nexus-router/pkg/provenance"
	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

// Router drives one run at a time to a terminal outcome. It owns no
// process-wide state: Store, Registry, and PolicyGate are all
// constructor-injected, per spec §9 ("no singletons, no module-level
// registries").
type Router struct {
	Store    store.Store
	Registry *adapter.Registry
	Policy   *policy.Gate
	Recorder *observability.Recorder
	Redactor *redact.Redactor

	// ComputeProvenance, when true, attaches a digest to the response of
	// a run that completes; responses of failed runs carry none. Off by
	// default: provenance is opt-in per spec §4.8 (`include_provenance?`).
	ComputeProvenance bool
}

// New builds a Router from its required collaborators. A nil gate or
// redactor is replaced with a fresh default; a nil recorder is kept as
// is, since every Recorder method is nil-safe.
func New(s store.Store, registry *adapter.Registry, gate *policy.Gate, recorder *observability.Recorder, redactor *redact.Redactor) *Router {
	if gate == nil {
		gate = policy.NewGate()
	}
	if redactor == nil {
		redactor = redact.New()
	}
	return &Router{Store: s, Registry: registry, Policy: gate, Recorder: recorder, Redactor: redactor}
}

// Run drives req through Initialized → Dispatching → Planning →
// Executing → Terminal (spec §4.5). The returned error is non-nil only
// for bug-class failures (store corruption, invariant violations) that
// must re-surface to the caller; policy/capability/selection denials
// are reported through Response.Error with a nil error return.
func (rt *Router) Run(ctx context.Context, req Request) (Response, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	createdAt := time.Now().UTC()
	if err := rt.Store.CreateRun(runID, req.Goal, req.Mode, createdAt); err != nil {
		return Response{}, fmt.Errorf("router: creating run: %w", err)
	}

	traceCtx, rootSpan := rt.Recorder.StartRun(ctx, runID, req.Goal, req.Mode)

	resp := Response{
		Run: RunInfo{RunID: runID, Goal: req.Goal, Mode: req.Mode, Status: "running", CreatedAt: createdAt},
	}

	fail := func(code coreerr.Code, message string, details map[string]any) (Response, error) {
		if _, err := rt.appendEvent(runID, "RUN_FAILED", map[string]any{
			"error_code": string(code),
			"message":    message,
			"details":    rt.Redactor.Value(details),
		}); err != nil {
			rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
			return Response{}, err
		}
		if err := rt.Store.SetStatus(runID, "failed"); err != nil {
			rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
			return Response{}, fmt.Errorf("router: setting failed status: %w", err)
		}
		resp.Run.Status = "failed"
		resp.Error = &ErrorInfo{ErrorCode: string(code), Details: details}
		rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
		return resp, nil
	}

	// 1. Init.
	if _, err := rt.appendEvent(runID, "RUN_STARTED", map[string]any{
		"goal": req.Goal,
		"mode": req.Mode,
		"request": map[string]any{
			"policy":   requestPolicyPayload(req.Policy),
			"dispatch": requestDispatchPayload(req.Dispatch),
			"plan_len": len(req.PlanOverride),
		},
	}); err != nil {
		rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
		return Response{}, err
	}

	// 2. Dispatch Select.
	var (
		selected        adapter.Adapter
		selectionSource string
	)
	if req.Dispatch.AdapterID != "" {
		a, err := rt.Registry.Get(req.Dispatch.AdapterID)
		if err != nil {
			return failFromAdapterError(fail, err)
		}
		selected, selectionSource = a, "request"
	} else {
		a, err := rt.Registry.GetDefault()
		if err != nil {
			return failFromAdapterError(fail, err)
		}
		selected, selectionSource = a, "default"
	}

	required := capability.NewSet(req.Dispatch.RequireCapabilities...)
	if req.Mode == "apply" {
		required = required.Union(capability.NewSet(capability.Apply))
	}
	for c := range required {
		if !selected.Capabilities().Has(c) {
			return fail(coreerr.CodeCapabilityMissing, fmt.Sprintf("adapter %s lacks capability %s", selected.AdapterID(), c), map[string]any{
				"required_capability":  string(c),
				"adapter_capabilities": selected.Capabilities().Strings(),
			})
		}
	}

	if _, err := rt.appendEvent(runID, "DISPATCH_SELECTED", map[string]any{
		"adapter_id":       selected.AdapterID(),
		"adapter_kind":     selected.AdapterKind(),
		"capabilities":     selected.Capabilities().Strings(),
		"selection_source": selectionSource,
	}); err != nil {
		rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
		return Response{}, err
	}
	resp.Dispatch = DispatchInfo{AdapterID: selected.AdapterID(), AdapterKind: selected.AdapterKind(), SelectionSource: selectionSource}

	// 3. Policy Check.
	if err := rt.Policy.CheckWithGoal(req.Policy, req.Goal, req.Mode, len(req.PlanOverride)); err != nil {
		if opErr, ok := coreerr.AsOperational(err); ok {
			return fail(opErr.ErrorCode, opErr.Message, opErr.Details)
		}
		return fail(coreerr.CodePolicyDenied, err.Error(), nil)
	}

	// 4. Plan.
	if err := validatePlan(req.PlanOverride); err != nil {
		return Response{}, fmt.Errorf("router: %w", err)
	}
	planPayload := make([]any, 0, len(req.PlanOverride))
	for _, step := range req.PlanOverride {
		planPayload = append(planPayload, map[string]any{
			"step_id": step.StepID,
			"intent":  step.Intent,
			"call": map[string]any{
				"tool":   step.Call.Tool,
				"method": step.Call.Method,
				"args":   rt.Redactor.Value(step.Call.Args),
			},
		})
	}
	if _, err := rt.appendEvent(runID, "PLAN_CREATED", map[string]any{"steps": planPayload}); err != nil {
		rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
		return Response{}, err
	}

	// 5. Execute loop.
	stepsOk, stepsError := 0, 0
	runStart := time.Now()

	for _, step := range req.PlanOverride {
		select {
		case <-ctx.Done():
			return fail(coreerr.CodeCancelled, "run cancelled at step boundary", map[string]any{"next_step_id": step.StepID})
		default:
		}

		if _, err := rt.appendEvent(runID, "STEP_STARTED", map[string]any{
			"step_id": step.StepID,
			"intent":  step.Intent,
			"call":    map[string]any{"tool": step.Call.Tool, "method": step.Call.Method, "args": rt.Redactor.Value(step.Call.Args)},
		}); err != nil {
			rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
			return Response{}, err
		}

		stepCtx, stepSpan := rt.Recorder.StartStep(traceCtx, step.StepID, step.Call.Tool, step.Call.Method)

		if _, err := rt.appendEvent(runID, "TOOL_CALL_REQUESTED", map[string]any{
			"step_id":              step.StepID,
			"call":                 map[string]any{"tool": step.Call.Tool, "method": step.Call.Method, "args": rt.Redactor.Value(step.Call.Args)},
			"adapter_id":           selected.AdapterID(),
			"adapter_capabilities": selected.Capabilities().Strings(),
		}); err != nil {
			rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
			return Response{}, err
		}

		start := time.Now()
		var (
			output     map[string]any
			callErr    error
			terminalOn bool
		)
		if req.Mode == "dry_run" {
			output = map[string]any{"ok": true, "simulated": true, "tool": step.Call.Tool, "method": step.Call.Method}
		} else {
			output, callErr = selected.Call(stepCtx, step.Call.Tool, step.Call.Method, step.Call.Args)
		}
		durationMS := time.Since(start).Milliseconds()

		status := "ok"
		if callErr != nil {
			status = "error"
			if opErr, ok := coreerr.AsOperational(callErr); ok {
				if _, err := rt.appendEvent(runID, "TOOL_CALL_FAILED", map[string]any{
					"step_id":    step.StepID,
					"error_code": string(opErr.ErrorCode),
					"details":    rt.Redactor.Value(opErr.Details),
					"duration_ms": durationMS,
				}); err != nil {
					rt.Recorder.EndStep(stepCtx, stepSpan, status, durationMS)
					rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
					return Response{}, err
				}
				stepsError++
			} else {
				code := coreerr.CodeUnknownError
				if bugErr, ok := coreerr.AsBug(callErr); ok {
					code = bugErr.ErrorCode
				}
				if _, err := rt.appendEvent(runID, "TOOL_CALL_FAILED", map[string]any{
					"step_id":     step.StepID,
					"error_code":  string(code),
					"duration_ms": durationMS,
				}); err != nil {
					rt.Recorder.EndStep(stepCtx, stepSpan, status, durationMS)
					rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
					return Response{}, err
				}
				stepsError++
				terminalOn = true
				rt.Recorder.EndStep(stepCtx, stepSpan, status, durationMS)
				if _, err := rt.appendEvent(runID, "STEP_COMPLETED", map[string]any{"step_id": step.StepID, "status": status}); err != nil {
					rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
					return Response{}, err
				}
				if err := rt.Store.SetStatus(runID, "failed"); err != nil {
					rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
					return Response{}, fmt.Errorf("router: setting failed status: %w", err)
				}
				if _, err := rt.appendEvent(runID, "RUN_FAILED", map[string]any{"error_code": string(code)}); err != nil {
					rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
					return Response{}, err
				}
				resp.Run.Status = "failed"
				resp.Error = &ErrorInfo{ErrorCode: string(code)}
				rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
				return resp, callErr
			}
		} else {
			if _, err := rt.appendEvent(runID, "TOOL_CALL_SUCCEEDED", map[string]any{
				"step_id":     step.StepID,
				"output":      rt.Redactor.Value(output),
				"duration_ms": durationMS,
			}); err != nil {
				rt.Recorder.EndStep(stepCtx, stepSpan, status, durationMS)
				rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
				return Response{}, err
			}
			stepsOk++
		}

		rt.Recorder.EndStep(stepCtx, stepSpan, status, durationMS)

		if !terminalOn {
			if _, err := rt.appendEvent(runID, "STEP_COMPLETED", map[string]any{"step_id": step.StepID, "status": status}); err != nil {
				rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
				return Response{}, err
			}
		}
	}

	// 6. Terminal.
	totalDurationMS := time.Since(runStart).Milliseconds()
	summary := map[string]any{
		"adapter_id":  selected.AdapterID(),
		"steps_total": len(req.PlanOverride),
		"steps_ok":    stepsOk,
		"steps_error": stepsError,
		"duration_ms": totalDurationMS,
	}
	if _, err := rt.appendEvent(runID, "RUN_COMPLETED", map[string]any{"summary": summary}); err != nil {
		rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
		return Response{}, err
	}
	if err := rt.Store.SetStatus(runID, "completed"); err != nil {
		rt.Recorder.EndRun(traceCtx, rootSpan, "failed")
		return Response{}, fmt.Errorf("router: setting completed status: %w", err)
	}

	resp.Run.Status = "completed"
	resp.Summary = Summary{
		AdapterID:  selected.AdapterID(),
		StepsTotal: len(req.PlanOverride),
		StepsOk:    stepsOk,
		StepsError: stepsError,
		DurationMS: totalDurationMS,
	}

	if rt.ComputeProvenance {
		runRow, err := rt.Store.GetRun(runID)
		if err != nil {
			return Response{}, fmt.Errorf("router: reloading run for provenance: %w", err)
		}
		events, err := rt.Store.IterEvents(runID)
		if err != nil {
			return Response{}, fmt.Errorf("router: reloading events for provenance: %w", err)
		}
		prov, err := provenance.Compute(runRow, events)
		if err != nil {
			return Response{}, fmt.Errorf("router: computing provenance: %w", err)
		}
		resp.Provenance = &ProvenanceInfo{Digest: prov.Digest, MethodID: prov.MethodID}
	}

	rt.Recorder.EndRun(traceCtx, rootSpan, "completed")
	return resp, nil
}

// failFromAdapterError records an UNKNOWN_ADAPTER terminal failure when
// resolving the dispatch target itself fails (spec §4.5 step 2).
func failFromAdapterError(fail func(coreerr.Code, string, map[string]any) (Response, error), err error) (Response, error) {
	if opErr, ok := coreerr.AsOperational(err); ok {
		return fail(opErr.ErrorCode, opErr.Message, opErr.Details)
	}
	return fail(coreerr.CodeUnknownAdapter, err.Error(), nil)
}

// appendEvent wraps Store.Append; any failure here is a bug per spec §7
// ("Inside EventStore: any failure to append is a bug and propagates").
func (rt *Router) appendEvent(runID, eventType string, payload map[string]any) (store.Event, error) {
	ev, err := rt.Store.Append(runID, eventType, payload)
	if err != nil {
		return store.Event{}, coreerr.NewBug(coreerr.CodeBugError, fmt.Sprintf("appending %s: %s", eventType, err), map[string]any{"run_id": runID, "event_type": eventType})
	}
	return ev, nil
}

// validatePlan rejects duplicate step_ids. A fixture/request-schema
// layer is expected to catch this first (spec §4.5); reaching here is a
// bug, not an operational failure.
func validatePlan(steps []PlanStep) error {
	seen := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if _, ok := seen[s.StepID]; ok {
			return coreerr.NewBug(coreerr.CodeBugError, fmt.Sprintf("duplicate step_id %q in plan", s.StepID), map[string]any{"step_id": s.StepID})
		}
		seen[s.StepID] = struct{}{}
	}
	return nil
}

func requestPolicyPayload(p policy.Policy) map[string]any {
	return map[string]any{
		"allow_apply": p.AllowApply,
		"max_steps":   p.MaxSteps,
	}
}

func requestDispatchPayload(d DispatchRequest) map[string]any {
	caps := make([]string, 0, len(d.RequireCapabilities))
	for _, c := range d.RequireCapabilities {
		caps = append(caps, string(c))
	}
	return map[string]any{
		"adapter_id":          d.AdapterID,
		"require_capabilities": caps,
	}
}
