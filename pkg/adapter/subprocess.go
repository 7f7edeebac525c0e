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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/mcp-tool-shop/nexus-router/internal/redact"
	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
	"github.com/mcp-tool-shop/nexus-router/pkg/coreerr"
)

// SubprocessAdapter invokes "<base_cmd> call <tool> <method>
// --json-args-file <path>" per spec §4.2. Capabilities = {apply, timeout,
// external}. The args payload is written to a mode-0600 temp file on
// POSIX systems and deleted on every exit path, including a crash-retry
// on cleanup failure.
type SubprocessAdapter struct {
	id       string
	baseCmd  string
	cwd      string
	env      []string
	timeout  time.Duration
	redactor *redact.Redactor
}

// SubprocessConfig configures a SubprocessAdapter.
type SubprocessConfig struct {
	AdapterID string
	BaseCmd   string
	CWD       string
	Env       []string
	Timeout   time.Duration
	Redactor  *redact.Redactor
}

// NewSubprocessAdapter constructs a SubprocessAdapter, validating the
// working directory up front so that CWD_NOT_FOUND / CWD_NOT_DIRECTORY
// surface at construction time rather than on first call.
func NewSubprocessAdapter(cfg SubprocessConfig) (*SubprocessAdapter, error) {
	if cfg.BaseCmd == "" {
		return nil, coreerr.NewBug(coreerr.CodeBugError, "subprocess adapter requires a base_cmd", nil)
	}
	if cfg.AdapterID == "" {
		cfg.AdapterID = "subprocess"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Redactor == nil {
		cfg.Redactor = redact.New()
	}

	if cfg.CWD != "" {
		info, err := os.Stat(cfg.CWD)
		if errors.Is(err, os.ErrNotExist) {
			return nil, coreerr.NewOperational(coreerr.CodeCWDNotFound, fmt.Sprintf("working directory does not exist: %s", cfg.CWD), map[string]any{"cwd": cfg.CWD})
		}
		if err != nil {
			return nil, coreerr.NewOperational(coreerr.CodeCWDNotFound, err.Error(), map[string]any{"cwd": cfg.CWD})
		}
		if !info.IsDir() {
			return nil, coreerr.NewOperational(coreerr.CodeCWDNotDirectory, fmt.Sprintf("working directory is not a directory: %s", cfg.CWD), map[string]any{"cwd": cfg.CWD})
		}
	}

	return &SubprocessAdapter{
		id:       cfg.AdapterID,
		baseCmd:  cfg.BaseCmd,
		cwd:      cfg.CWD,
		env:      cfg.Env,
		timeout:  cfg.Timeout,
		redactor: cfg.Redactor,
	}, nil
}

func (s *SubprocessAdapter) AdapterID() string   { return s.id }
func (s *SubprocessAdapter) AdapterKind() string { return "subprocess" }

func (s *SubprocessAdapter) Capabilities() capability.Set {
	return capability.NewSet(capability.Apply, capability.Timeout, capability.External)
}

func (s *SubprocessAdapter) Call(ctx context.Context, tool, method string, args map[string]any) (map[string]any, error) {
	argsFile, cleanup, err := s.writeArgsFile(args)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, s.baseCmd, "call", tool, method, "--json-args-file", argsFile)
	if s.cwd != "" {
		cmd.Dir = s.cwd
	}
	if len(s.env) > 0 {
		cmd.Env = s.env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if callCtx.Err() == context.DeadlineExceeded {
		return nil, coreerr.NewOperational(coreerr.CodeTimeout, fmt.Sprintf("subprocess call timed out after %v", s.timeout), map[string]any{
			"tool": tool, "method": method,
		})
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, coreerr.NewOperational(coreerr.CodeNonzeroExit, "subprocess exited with non-zero status", map[string]any{
				"tool":      tool,
				"method":    method,
				"exit_code": exitErr.ExitCode(),
				"stderr":    s.redactor.Text(truncate(stderr.String(), 4096)),
			})
		}
		if errors.Is(runErr, exec.ErrNotFound) {
			return nil, coreerr.NewOperational(coreerr.CodeCommandNotFound, fmt.Sprintf("command not found: %s", s.baseCmd), map[string]any{"base_cmd": s.baseCmd})
		}
		if os.IsPermission(runErr) {
			return nil, coreerr.NewOperational(coreerr.CodePermissionDenied, runErr.Error(), map[string]any{"base_cmd": s.baseCmd})
		}
		return nil, coreerr.NewOperational(coreerr.CodeNonzeroExit, runErr.Error(), map[string]any{"tool": tool, "method": method})
	}

	var result map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, coreerr.NewOperational(coreerr.CodeInvalidJSONOutput, "subprocess stdout was not valid JSON", map[string]any{
			"tool":   tool,
			"method": method,
			"stdout": s.redactor.Text(truncate(stdout.String(), 2048)),
		})
	}

	return s.redactor.Value(result).(map[string]any), nil
}

// writeArgsFile writes args as JSON to a mode-0600 temp file and returns
// a cleanup func that removes it on every exit path. Cleanup retries once
// on failure (e.g. a concurrent antivirus lock on the path) before giving
// up silently — a leaked temp file is a quality issue, not a correctness
// one, since each call uses a fresh path.
func (s *SubprocessAdapter) writeArgsFile(args map[string]any) (string, func(), error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return "", func() {}, coreerr.NewBug(coreerr.CodeBugError, "failed to marshal args", nil)
	}

	f, err := os.CreateTemp("", "nexus-router-args-*.json")
	if err != nil {
		return "", func() {}, coreerr.NewOperational(coreerr.CodePermissionDenied, err.Error(), nil)
	}
	path := f.Name()

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(path)
		return "", func() {}, coreerr.NewOperational(coreerr.CodePermissionDenied, err.Error(), nil)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(path)
		return "", func() {}, coreerr.NewOperational(coreerr.CodePermissionDenied, err.Error(), nil)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", func() {}, coreerr.NewOperational(coreerr.CodePermissionDenied, err.Error(), nil)
	}

	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			_ = os.Remove(path)
		}
	}
	return path, cleanup, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
