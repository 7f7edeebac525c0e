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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop/nexus-router/pkg/replay"
	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

func newReplayCommand() *cobra.Command {
	var (
		dbPath string
		strict bool
		query  string
	)

	cmd := &cobra.Command{
		Use:   "replay <run_id>",
		Short: "Reconstruct a run's view and check its invariants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			s, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer s.Close()

			checker := replay.NewChecker(s)
			result, err := checker.Replay(runID, strict)
			if err != nil {
				return fmt.Errorf("replaying %s: %w", runID, err)
			}

			if query != "" {
				val, err := checker.Query(result.View, query)
				if err != nil {
					return fmt.Errorf("running query: %w", err)
				}
				return printJSON(cmd, val)
			}

			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if !result.OK {
				return fmt.Errorf("replay found %d invariant violation(s)", len(result.Violations))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", ":memory:", "event store path (sqlite file or :memory:)")
	cmd.Flags().BoolVar(&strict, "strict", true, "fail the command when invariant violations are found")
	cmd.Flags().StringVar(&query, "query", "", "jq expression to run over the reconstructed view instead of printing it whole")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
