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

package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueRedactsSensitiveKeys(t *testing.T) {
	r := New()
	in := map[string]any{
		"api_key": "sk-abc123",
		"ok":      "fine",
		"nested": map[string]any{
			"password": "hunter2",
		},
	}

	out := r.Value(in).(map[string]any)
	require.Equal(t, "[REDACTED]", out["api_key"])
	require.Equal(t, "fine", out["ok"])
	require.Equal(t, "[REDACTED]", out["nested"].(map[string]any)["password"])
}

func TestTextScrubsBearerTokens(t *testing.T) {
	r := New()
	out := r.Text("Authorization: Bearer abc.def-123")
	require.Contains(t, out, "[REDACTED]")
	require.NotContains(t, out, "abc.def-123")
}

func TestValueLeavesNonSensitiveArraysIntact(t *testing.T) {
	r := New()
	in := map[string]any{"items": []any{"a", "b", map[string]any{"token": "xyz"}}}
	out := r.Value(in).(map[string]any)
	items := out["items"].([]any)
	require.Equal(t, "a", items[0])
	require.Equal(t, "[REDACTED]", items[2].(map[string]any)["token"])
}
