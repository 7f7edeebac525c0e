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

package adapter_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcp-tool-shop/nexus-router/pkg/adapter"
	"github.com/mcp-tool-shop/nexus-router/pkg/coreerr"
)

// writeFakeBaseCmd writes a tiny shell script acting as the subprocess
// adapter's base_cmd, so tests exercise the real exec path without
// depending on an external tool being installed.
func writeFakeBaseCmd(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakecmd.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func TestSubprocessAdapterParsesJSONStdout(t *testing.T) {
	script := "#!/bin/sh\necho '{\"ok\":true}'\n"
	cmd := writeFakeBaseCmd(t, script)

	a, err := adapter.NewSubprocessAdapter(adapter.SubprocessConfig{BaseCmd: cmd, Timeout: 2 * time.Second})
	require.NoError(t, err)

	out, err := a.Call(context.Background(), "files", "read", map[string]any{"path": "a.txt"})
	require.NoError(t, err)
	require.Equal(t, true, out["ok"])
}

func TestSubprocessAdapterNonzeroExit(t *testing.T) {
	script := "#!/bin/sh\nexit 7\n"
	cmd := writeFakeBaseCmd(t, script)

	a, err := adapter.NewSubprocessAdapter(adapter.SubprocessConfig{BaseCmd: cmd, Timeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = a.Call(context.Background(), "files", "read", nil)
	require.Error(t, err)

	opErr, ok := coreerr.AsOperational(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodeNonzeroExit, opErr.ErrorCode)
}

func TestSubprocessAdapterInvalidJSONOutput(t *testing.T) {
	script := "#!/bin/sh\necho 'not json'\n"
	cmd := writeFakeBaseCmd(t, script)

	a, err := adapter.NewSubprocessAdapter(adapter.SubprocessConfig{BaseCmd: cmd, Timeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = a.Call(context.Background(), "files", "read", nil)
	require.Error(t, err)

	opErr, ok := coreerr.AsOperational(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodeInvalidJSONOutput, opErr.ErrorCode)
}

func TestSubprocessAdapterTimeout(t *testing.T) {
	script := "#!/bin/sh\nsleep 5\necho '{}'\n"
	cmd := writeFakeBaseCmd(t, script)

	a, err := adapter.NewSubprocessAdapter(adapter.SubprocessConfig{BaseCmd: cmd, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = a.Call(context.Background(), "files", "read", nil)
	require.Error(t, err)

	opErr, ok := coreerr.AsOperational(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodeTimeout, opErr.ErrorCode)
}

func TestSubprocessAdapterRejectsMissingCWD(t *testing.T) {
	_, err := adapter.NewSubprocessAdapter(adapter.SubprocessConfig{BaseCmd: "/bin/true", CWD: "/no/such/dir"})
	require.Error(t, err)

	opErr, ok := coreerr.AsOperational(err)
	require.True(t, ok)
	require.Equal(t, coreerr.CodeCWDNotFound, opErr.ErrorCode)
}

func TestSubprocessAdapterRedactsSensitiveStdout(t *testing.T) {
	script := "#!/bin/sh\necho '{\"api_key\":\"sk-abc123\",\"ok\":true}'\n"
	cmd := writeFakeBaseCmd(t, script)

	a, err := adapter.NewSubprocessAdapter(adapter.SubprocessConfig{BaseCmd: cmd, Timeout: 2 * time.Second})
	require.NoError(t, err)

	out, err := a.Call(context.Background(), "files", "read", nil)
	require.NoError(t, err)
	require.Equal(t, "[REDACTED]", out["api_key"])
	require.Equal(t, true, out["ok"])
}
