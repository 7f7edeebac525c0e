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

// Package fixtures loads declarative run requests from YAML, for the
// CLI and for tests that would rather author a plan on disk than in Go
// (spec §6.2's request schema, made file-friendly).
package fixtures

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
	"github.com/mcp-tool-shop/nexus-router/pkg/policy"
	"github.com/mcp-tool-shop/nexus-router/pkg/router"
)

// Fixture is the on-disk, YAML-friendly mirror of spec §6.2's request
// schema. Field names follow the schema's snake_case exactly so a
// fixture file reads the same as the wire-level request it describes.
type Fixture struct {
	Goal         string           `yaml:"goal"`
	Mode         string           `yaml:"mode"`
	Policy       *PolicyFixture   `yaml:"policy,omitempty"`
	Dispatch     *DispatchFixture `yaml:"dispatch,omitempty"`
	PlanOverride []StepFixture    `yaml:"plan_override,omitempty"`
	DBPath       string           `yaml:"db_path,omitempty"`
}

// PolicyFixture mirrors policy.Policy.
type PolicyFixture struct {
	AllowApply bool     `yaml:"allow_apply"`
	MaxSteps   int      `yaml:"max_steps"`
	Rules      []string `yaml:"rules,omitempty"`
}

// DispatchFixture mirrors router.DispatchRequest.
type DispatchFixture struct {
	AdapterID           string   `yaml:"adapter_id,omitempty"`
	RequireCapabilities []string `yaml:"require_capabilities,omitempty"`
}

// StepFixture mirrors router.PlanStep.
type StepFixture struct {
	StepID string      `yaml:"step_id"`
	Intent string      `yaml:"intent,omitempty"`
	Call   CallFixture `yaml:"call"`
}

// CallFixture mirrors router.Call.
type CallFixture struct {
	Tool   string         `yaml:"tool"`
	Method string         `yaml:"method"`
	Args   map[string]any `yaml:"args,omitempty"`
}

// Load reads and parses a fixture file from path.
func Load(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("fixtures: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses fixture YAML from data, applying defaults and
// validating the result before returning it.
func Parse(data []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("fixtures: parsing YAML: %w", err)
	}
	f.applyDefaults()
	if err := f.validate(); err != nil {
		return Fixture{}, fmt.Errorf("fixtures: invalid fixture: %w", err)
	}
	return f, nil
}

func (f *Fixture) applyDefaults() {
	if f.Mode == "" {
		f.Mode = "dry_run"
	}
	if f.Policy == nil {
		f.Policy = &PolicyFixture{}
	}
}

func (f *Fixture) validate() error {
	if f.Goal == "" {
		return fmt.Errorf("goal is required")
	}
	if f.Mode != "dry_run" && f.Mode != "apply" {
		return fmt.Errorf("mode must be dry_run or apply, got %q", f.Mode)
	}
	seen := map[string]bool{}
	for _, step := range f.PlanOverride {
		if step.StepID == "" {
			return fmt.Errorf("plan_override entries require a step_id")
		}
		if seen[step.StepID] {
			return fmt.Errorf("duplicate step_id %q in plan_override", step.StepID)
		}
		seen[step.StepID] = true
		if step.Call.Tool == "" || step.Call.Method == "" {
			return fmt.Errorf("step %q requires call.tool and call.method", step.StepID)
		}
	}
	return nil
}

// ToRequest converts the fixture into a router.Request, the shape the
// core actually consumes; request schema validation per spec §6.2 is
// this package's job, not the router's.
func (f Fixture) ToRequest() router.Request {
	req := router.Request{
		Goal: f.Goal,
		Mode: f.Mode,
	}
	if f.Policy != nil {
		req.Policy = policy.Policy{
			AllowApply: f.Policy.AllowApply,
			MaxSteps:   f.Policy.MaxSteps,
			Rules:      f.Policy.Rules,
		}
	}
	if f.Dispatch != nil {
		req.Dispatch = router.DispatchRequest{
			AdapterID:           f.Dispatch.AdapterID,
			RequireCapabilities: toCapabilities(f.Dispatch.RequireCapabilities),
		}
	}
	for _, step := range f.PlanOverride {
		req.PlanOverride = append(req.PlanOverride, router.PlanStep{
			StepID: step.StepID,
			Intent: step.Intent,
			Call: router.Call{
				Tool:   step.Call.Tool,
				Method: step.Call.Method,
				Args:   step.Call.Args,
			},
		})
	}
	return req
}

func toCapabilities(names []string) []capability.Capability {
	if len(names) == 0 {
		return nil
	}
	caps := make([]capability.Capability, len(names))
	for i, n := range names {
		caps[i] = capability.Capability(n)
	}
	return caps
}
