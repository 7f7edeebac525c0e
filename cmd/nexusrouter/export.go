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
	"os"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop/nexus-router/pkg/exportimport"
	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

func newExportCommand() *cobra.Command {
	var (
		dbPath            string
		outPath           string
		includeProvenance bool
	)

	cmd := &cobra.Command{
		Use:   "export <run_id>",
		Short: "Emit a portable bundle for one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			s, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer s.Close()

			bundle, err := exportimport.Export(s, runID, includeProvenance)
			if err != nil {
				return fmt.Errorf("exporting %s: %w", runID, err)
			}

			data, err := json.MarshalIndent(bundle, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding bundle: %w", err)
			}

			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", ":memory:", "event store path (sqlite file or :memory:)")
	cmd.Flags().StringVar(&outPath, "out", "-", "bundle output path, or - for stdout")
	cmd.Flags().BoolVar(&includeProvenance, "provenance", true, "include a provenance digest in the bundle")
	return cmd
}
