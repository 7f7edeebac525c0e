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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop/nexus-router/pkg/exportimport"
	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

func newImportCommand() *cobra.Command {
	var (
		dbPath       string
		inPath       string
		mode         string
		verifyDigest bool
		verifyReplay bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Insert a portable bundle into an event store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readBundleInput(inPath)
			if err != nil {
				return err
			}

			var bundle exportimport.Bundle
			if err := json.Unmarshal(data, &bundle); err != nil {
				return fmt.Errorf("parsing bundle: %w", err)
			}

			s, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer s.Close()

			runID, err := exportimport.Import(s, bundle, exportimport.Options{
				Mode:         exportimport.Mode(mode),
				VerifyDigest: verifyDigest,
				VerifyReplay: verifyReplay,
			})
			if err != nil {
				return fmt.Errorf("importing bundle: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported run %s\n", runID)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", ":memory:", "event store path (sqlite file or :memory:)")
	cmd.Flags().StringVar(&inPath, "in", "-", "bundle input path, or - for stdin")
	cmd.Flags().StringVar(&mode, "mode", string(exportimport.ModeRejectOnConflict), "conflict mode: reject_on_conflict, new_run_id, overwrite")
	cmd.Flags().BoolVar(&verifyDigest, "verify-digest", true, "recompute and verify the bundle's provenance digest")
	cmd.Flags().BoolVar(&verifyReplay, "verify-replay", true, "run the invariant checker before committing the import")
	return cmd
}

func readBundleInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
