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

	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
)

// NullAdapter is the dry-run-only built-in. Capabilities = {dry_run}. It
// never invokes anything external and always returns the same
// deterministic placeholder.
type NullAdapter struct {
	id string
}

// NewNullAdapter constructs a NullAdapter with the given adapter_id
// ("null" is the conventional default).
func NewNullAdapter(id string) *NullAdapter {
	if id == "" {
		id = "null"
	}
	return &NullAdapter{id: id}
}

func (n *NullAdapter) AdapterID() string   { return n.id }
func (n *NullAdapter) AdapterKind() string { return "null" }

func (n *NullAdapter) Capabilities() capability.Set {
	return capability.NewSet(capability.DryRun)
}

func (n *NullAdapter) Call(_ context.Context, tool, method string, _ map[string]any) (map[string]any, error) {
	return map[string]any{
		"ok":        true,
		"simulated": true,
		"tool":      tool,
		"method":    method,
	}, nil
}
