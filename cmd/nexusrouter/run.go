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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop/nexus-router/pkg/fixtures"
	"github.com/mcp-tool-shop/nexus-router/pkg/observability"
	"github.com/mcp-tool-shop/nexus-router/pkg/policy"
	"github.com/mcp-tool-shop/nexus-router/pkg/router"
	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

func newRunCommand() *cobra.Command {
	var (
		dbPath   string
		applyCmd string
		cwd      string
		timeout  time.Duration
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "run <fixture.yaml>",
		Short: "Drive a plan fixture through the router once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if watch {
				return watchAndRun(cmd, path, dbPath, applyCmd, cwd, timeout)
			}
			return runOnce(cmd, path, dbPath, applyCmd, cwd, timeout)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", ":memory:", "event store path (sqlite file or :memory:)")
	cmd.Flags().StringVar(&applyCmd, "apply-cmd", "", "base command for the subprocess adapter (enables apply mode)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the subprocess adapter")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "subprocess adapter timeout")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run the fixture each time it changes on disk")
	return cmd
}

func runOnce(cmd *cobra.Command, path, dbPath, applyCmd, cwd string, timeout time.Duration) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	f, err := fixtures.Load(path)
	if err != nil {
		return err
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	reg, err := buildRegistry(applyCmd, cwd, timeout)
	if err != nil {
		return err
	}

	recorder := observability.NewNoop()
	rt := router.New(s, reg, policy.NewGate(), recorder, nil)
	rt.ComputeProvenance = true

	logger.Info("starting run", "goal", f.Goal, "mode", f.Mode)

	resp, err := rt.Run(context.Background(), f.ToRequest())
	if err != nil {
		logger.Error("run terminated with a bug error", "error", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(resp); encErr != nil {
		return fmt.Errorf("encoding response: %w", encErr)
	}
	return err
}

func watchAndRun(cmd *cobra.Command, path, dbPath, applyCmd, cwd string, timeout time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	if err := runOnce(cmd, path, dbPath, applyCmd, cwd, timeout); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "nexusrouter: %v\n", err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := runOnce(cmd, path, dbPath, applyCmd, cwd, timeout); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "nexusrouter: %v\n", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "nexusrouter: watch error: %v\n", err)
		}
	}
}
