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
	"os"

	"github.com/spf13/cobra"
)

// Version information, injected via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nexusrouter: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nexusrouter",
		Short: "Dispatch and replay event-sourced tool-execution runs",
		Long: `nexusrouter drives goals through a governed, replayable tool-execution
pipeline: a dispatch layer selects an adapter, a policy gate decides
dry_run vs apply, and every transition is appended to an event log
suitable for replay, invariant checking, and portable export/import.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newReplayCommand())
	cmd.AddCommand(newExportCommand())
	cmd.AddCommand(newImportCommand())
	return cmd
}
