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

// Package capability defines the closed, core-governed capability set
// that adapters declare and the router/policy enforce.
package capability

import "sort"

// Capability is a string drawn from the closed set below. Unlike adapter
// or event-type identifiers, this set is never extended by callers —
// adding a new capability is a core-level change.
type Capability string

const (
	DryRun   Capability = "dry_run"
	Apply    Capability = "apply"
	Timeout  Capability = "timeout"
	External Capability = "external"
)

// All enumerates the closed capability set, for validation.
var All = map[Capability]bool{
	DryRun:   true,
	Apply:    true,
	Timeout:  true,
	External: true,
}

// Valid reports whether c is a member of the closed capability set.
func Valid(c Capability) bool { return All[c] }

// Set is an immutable-by-convention collection of capabilities. Callers
// should treat a Set returned from an adapter as read-only; use Clone to
// obtain a mutable copy.
type Set map[Capability]struct{}

// NewSet builds a Set from the given capabilities.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains c.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Union returns a new Set containing every capability in s or other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// Clone returns a mutable copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Slice returns the set's members as a slice, in no particular order.
// Callers that need a stable order (e.g. for event payload snapshots or
// digest computation) must sort the result themselves.
func (s Set) Slice() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	return out
}

// Strings returns the set's members as plain strings, sorted
// lexicographically — suitable for event payload snapshots whose
// canonical serialization must be deterministic.
func (s Set) Strings() []string {
	caps := s.Slice()
	strs := make([]string, len(caps))
	for i, c := range caps {
		strs[i] = string(c)
	}
	sort.Strings(strs)
	return strs
}
