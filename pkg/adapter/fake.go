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

package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
	"github.com/mcp-tool-shop/nexus-router/pkg/coreerr"
)

// FakeResponse configures how a FakeAdapter answers one (tool, method)
// pair: either a canned result or an error to return instead.
type FakeResponse struct {
	Output map[string]any
	Err    error
}

// Invocation records one Call made against a FakeAdapter, for test
// assertions (e.g. "the adapter was never invoked in dry_run mode").
type Invocation struct {
	Tool   string
	Method string
	Args   map[string]any
}

// FakeAdapter is the apply-capable built-in used by tests: capabilities
// = {dry_run, apply}; responses are configured per (tool, method) key and
// every call is recorded.
type FakeAdapter struct {
	id string

	mu          sync.Mutex
	responses   map[string]FakeResponse
	invocations []Invocation
}

// NewFakeAdapter constructs a FakeAdapter with the given adapter_id.
func NewFakeAdapter(id string) *FakeAdapter {
	if id == "" {
		id = "fake"
	}
	return &FakeAdapter{id: id, responses: make(map[string]FakeResponse)}
}

func (f *FakeAdapter) AdapterID() string   { return f.id }
func (f *FakeAdapter) AdapterKind() string { return "fake" }

func (f *FakeAdapter) Capabilities() capability.Set {
	return capability.NewSet(capability.DryRun, capability.Apply)
}

// OnCall configures the response returned for tool.method.
func (f *FakeAdapter) OnCall(tool, method string, resp FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[key(tool, method)] = resp
}

// Invocations returns a copy of every call recorded so far, in order.
func (f *FakeAdapter) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Invocation, len(f.invocations))
	copy(out, f.invocations)
	return out
}

func (f *FakeAdapter) Call(_ context.Context, tool, method string, args map[string]any) (map[string]any, error) {
	f.mu.Lock()
	f.invocations = append(f.invocations, Invocation{Tool: tool, Method: method, Args: args})
	resp, configured := f.responses[key(tool, method)]
	f.mu.Unlock()

	if !configured {
		return nil, coreerr.NewOperational(coreerr.CodeInvalidJSONOutput, fmt.Sprintf("fake adapter has no configured response for %s.%s", tool, method), map[string]any{
			"tool":   tool,
			"method": method,
		})
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Output, nil
}

func key(tool, method string) string { return tool + "." + method }
