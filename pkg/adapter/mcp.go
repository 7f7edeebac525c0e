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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
	"github.com/mcp-tool-shop/nexus-router/pkg/coreerr"
)

// MCPServerSpec describes how to launch the MCP server that backs one
// "tool" namespace dispatched through MCPAdapter.
type MCPServerSpec struct {
	Command string
	Args    []string
	Env     []string
}

// MCPAdapter dispatches tool calls over the Model Context Protocol,
// supplementing the core's Null/Fake/Subprocess built-ins (spec §4.2).
// capabilities = {apply, timeout, external}. One MCP client session is
// started per distinct "tool" value on first use and reused thereafter.
type MCPAdapter struct {
	id      string
	servers map[string]MCPServerSpec
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*mcpclient.Client
}

// NewMCPAdapter constructs an MCPAdapter. servers maps the "tool" value
// used in a plan step's call to the MCP server that should handle it.
func NewMCPAdapter(id string, servers map[string]MCPServerSpec, timeout time.Duration) *MCPAdapter {
	if id == "" {
		id = "mcp"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MCPAdapter{
		id:      id,
		servers: servers,
		timeout: timeout,
		clients: make(map[string]*mcpclient.Client),
	}
}

func (m *MCPAdapter) AdapterID() string   { return m.id }
func (m *MCPAdapter) AdapterKind() string { return "mcp" }

func (m *MCPAdapter) Capabilities() capability.Set {
	return capability.NewSet(capability.Apply, capability.Timeout, capability.External)
}

func (m *MCPAdapter) Call(ctx context.Context, tool, method string, args map[string]any) (map[string]any, error) {
	client, err := m.clientFor(ctx, tool)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      method,
			Arguments: args,
		},
	}

	result, err := client.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, coreerr.NewOperational(coreerr.CodeTimeout, fmt.Sprintf("mcp call to %s.%s timed out", tool, method), map[string]any{"tool": tool, "method": method})
		}
		return nil, coreerr.NewOperational(coreerr.CodeConnectionFailed, err.Error(), map[string]any{"tool": tool, "method": method})
	}

	if result.IsError {
		return nil, coreerr.NewOperational(coreerr.CodeInvalidJSONOutput, extractErrorText(result), map[string]any{"tool": tool, "method": method})
	}

	return toStructuredOutput(result)
}

func (m *MCPAdapter) clientFor(ctx context.Context, tool string) (*mcpclient.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[tool]; ok {
		return c, nil
	}

	spec, ok := m.servers[tool]
	if !ok {
		return nil, coreerr.NewOperational(coreerr.CodeConnectionFailed, fmt.Sprintf("no MCP server configured for tool %q", tool), map[string]any{"tool": tool})
	}

	c, err := mcpclient.NewStdioMCPClient(spec.Command, spec.Env, spec.Args...)
	if err != nil {
		return nil, coreerr.NewOperational(coreerr.CodeConnectionFailed, err.Error(), map[string]any{"tool": tool})
	}
	if err := c.Start(ctx); err != nil {
		return nil, coreerr.NewOperational(coreerr.CodeConnectionFailed, err.Error(), map[string]any{"tool": tool})
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "nexus-router",
				Version: "0.3",
			},
		},
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, coreerr.NewOperational(coreerr.CodeConnectionFailed, err.Error(), map[string]any{"tool": tool})
	}

	m.clients[tool] = c
	return c, nil
}

// Close shuts down every MCP client session started by this adapter.
func (m *MCPAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for tool, c := range m.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing mcp client for %s: %w", tool, err)
		}
	}
	m.clients = make(map[string]*mcpclient.Client)
	return firstErr
}

func extractErrorText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			return text.Text
		}
	}
	return "mcp tool call returned an error result"
}

func toStructuredOutput(result *mcp.CallToolResult) (map[string]any, error) {
	texts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			texts = append(texts, text.Text)
		}
	}

	out := map[string]any{"content_items": len(result.Content)}
	if len(texts) == 1 {
		var parsed any
		if err := json.Unmarshal([]byte(texts[0]), &parsed); err == nil {
			if m, ok := parsed.(map[string]any); ok {
				return m, nil
			}
			out["output"] = parsed
			return out, nil
		}
		out["text"] = texts[0]
		return out, nil
	}
	if len(texts) > 1 {
		out["texts"] = texts
	}
	return out, nil
}
