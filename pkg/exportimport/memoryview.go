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

package exportimport

import (
	"time"

	"github.com/mcp-tool-shop/nexus-router/pkg/store"
)

// memoryView adapts a single (run, events) pair to the store.Store
// interface so replay.Checker can validate a bundle before it is ever
// written to the real target store. Only the read path is exercised;
// the write methods exist solely to satisfy the interface.
type memoryView struct {
	run    store.Run
	events []store.Event
}

var _ store.Store = (*memoryView)(nil)

func (m *memoryView) CreateRun(runID, goal, mode string, ts time.Time) error {
	return nil
}

func (m *memoryView) SetStatus(runID, status string) error {
	return nil
}

func (m *memoryView) Append(runID, eventType string, payload map[string]any) (store.Event, error) {
	return store.Event{}, nil
}

func (m *memoryView) IterEvents(runID string) ([]store.Event, error) {
	if runID != m.run.RunID {
		return nil, store.ErrRunNotFound
	}
	return m.events, nil
}

func (m *memoryView) GetRun(runID string) (store.Run, error) {
	if runID != m.run.RunID {
		return store.Run{}, store.ErrRunNotFound
	}
	return m.run, nil
}

func (m *memoryView) ListRuns(filter store.ListFilter) ([]store.Run, store.Counts, error) {
	return []store.Run{m.run}, store.Counts{Total: 1}, nil
}

func (m *memoryView) Close() error { return nil }
