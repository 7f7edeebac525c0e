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

// Package adapter defines the dispatch contract executed by the router
// for every tool call, a registry of named adapters, and the Null, Fake,
// Subprocess, and MCP built-ins.
package adapter

import (
	"context"

	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
)

// Adapter executes a single tool call. Implementations must be pure
// functions of their arguments except where explicitly documented (wall
// time, generated IDs), must not mutate process-wide state, and must not
// call other adapters.
type Adapter interface {
	// AdapterID is a non-empty, stable identifier for this instance.
	AdapterID() string

	// AdapterKind names the implementation family (e.g. "null", "fake",
	// "subprocess", "mcp"). Non-empty.
	AdapterKind() string

	// Capabilities returns the adapter's declared, immutable capability
	// set. Callers must not mutate the returned Set.
	Capabilities() capability.Set

	// Call executes tool.method with args and returns a structured,
	// JSON-serializable result, or an error (see pkg/coreerr for the
	// operational/bug distinction expected by the router).
	Call(ctx context.Context, tool, method string, args map[string]any) (map[string]any, error)
}
