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

// Package router drives a plan through the dispatch/policy/execute state
// machine (spec §4.5), recording every transition as one event append.
package router

import (
	"time"

	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
	"github.com/mcp-tool-shop/nexus-router/pkg/policy"
)

// Call is one dispatchable tool invocation.
type Call struct {
	Tool   string
	Method string
	Args   map[string]any
}

// PlanStep is one entry of the request's plan_override (spec §3).
type PlanStep struct {
	StepID string
	Intent string
	Call   Call
}

// DispatchRequest optionally pins adapter selection and required
// capabilities (spec §6.2 `dispatch`).
type DispatchRequest struct {
	AdapterID           string
	RequireCapabilities []capability.Capability
}

// Request is the router's external input (spec §6.2).
type Request struct {
	RunID        string // allocated if empty
	Goal         string
	Mode         string // "dry_run" | "apply"
	Policy       policy.Policy
	Dispatch     DispatchRequest
	PlanOverride []PlanStep
}

// RunInfo mirrors the persisted run header in the response.
type RunInfo struct {
	RunID     string
	Goal      string
	Mode      string
	Status    string
	CreatedAt time.Time
}

// DispatchInfo records which adapter was selected and how.
type DispatchInfo struct {
	AdapterID       string
	AdapterKind     string
	SelectionSource string // "request" | "default"
}

// Summary is the terminal run summary (spec §6.3).
type Summary struct {
	AdapterID  string
	StepsTotal int
	StepsOk    int
	StepsError int
	DurationMS int64
}

// ProvenanceInfo mirrors pkg/provenance.Provenance in the response shape.
type ProvenanceInfo struct {
	Digest   string
	MethodID string
}

// ErrorInfo carries the terminal error_code/details when a run fails.
type ErrorInfo struct {
	ErrorCode string
	Details   map[string]any
}

// Response is the router's external output (spec §6.3).
type Response struct {
	Run        RunInfo
	Dispatch   DispatchInfo
	Summary    Summary
	Provenance *ProvenanceInfo
	Error      *ErrorInfo
}
