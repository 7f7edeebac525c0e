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
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
	"github.com/mcp-tool-shop/nexus-router/pkg/coreerr"
)

func TestMCPAdapterDeclaresApplyTimeoutExternal(t *testing.T) {
	a := NewMCPAdapter("", nil, 0)
	require.Equal(t, "mcp", a.AdapterID())
	require.Equal(t, "mcp", a.AdapterKind())
	caps := a.Capabilities()
	require.True(t, caps.Has(capability.Apply))
	require.True(t, caps.Has(capability.Timeout))
	require.True(t, caps.Has(capability.External))
	require.False(t, caps.Has(capability.DryRun))
}

func TestMCPAdapterCallFailsForUnconfiguredTool(t *testing.T) {
	a := NewMCPAdapter("mcp1", map[string]MCPServerSpec{}, time.Second)
	_, err := a.Call(context.Background(), "unknown-tool", "m", nil)

	opErr, ok := coreerr.AsOperational(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodeConnectionFailed, opErr.ErrorCode)
}

func TestToStructuredOutputParsesSingleJSONTextContent(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(`{"status":"ok","count":3}`),
		},
	}
	out, err := toStructuredOutput(result)
	require.NoError(t, err)
	require.Equal(t, "ok", out["status"])
	require.Equal(t, float64(3), out["count"])
}

func TestToStructuredOutputFallsBackToRawTextWhenNotJSONObject(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent("plain text result"),
		},
	}
	out, err := toStructuredOutput(result)
	require.NoError(t, err)
	require.Equal(t, "plain text result", out["text"])
}

func TestToStructuredOutputCollectsMultipleTexts(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent("first"),
			mcp.NewTextContent("second"),
		},
	}
	out, err := toStructuredOutput(result)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, out["texts"])
}

func TestExtractErrorTextReturnsFirstTextContent(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent("tool exploded"),
		},
	}
	require.Equal(t, "tool exploded", extractErrorText(result))
}

func TestExtractErrorTextFallsBackWhenNoTextContent(t *testing.T) {
	result := &mcp.CallToolResult{}
	require.Equal(t, "mcp tool call returned an error result", extractErrorText(result))
}
