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

package main

import (
	"fmt"
	"time"

	"github.com/mcp-tool-shop/nexus-router/pkg/adapter"
)

// buildRegistry assembles the CLI's adapter registry: a no-op "null"
// adapter always present as the safe default, plus an optional
// "subprocess" adapter when baseCmd is supplied (--apply-cmd).
func buildRegistry(baseCmd, cwd string, timeout time.Duration) (*adapter.Registry, error) {
	reg := adapter.NewRegistry("null")
	if err := reg.Register(adapter.NewNullAdapter("null")); err != nil {
		return nil, fmt.Errorf("registering null adapter: %w", err)
	}

	if baseCmd != "" {
		sub, err := adapter.NewSubprocessAdapter(adapter.SubprocessConfig{
			AdapterID: "subprocess",
			BaseCmd:   baseCmd,
			CWD:       cwd,
			Timeout:   timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("building subprocess adapter: %w", err)
		}
		if err := reg.Register(sub); err != nil {
			return nil, fmt.Errorf("registering subprocess adapter: %w", err)
		}
	}

	return reg, nil
}
