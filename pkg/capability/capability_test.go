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

package capability_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
)

func TestValidRejectsUnknownCapability(t *testing.T) {
	require.True(t, capability.Valid(capability.Apply))
	require.False(t, capability.Valid(capability.Capability("bogus")))
}

func TestSetHasAndUnion(t *testing.T) {
	a := capability.NewSet(capability.DryRun, capability.Timeout)
	b := capability.NewSet(capability.Apply)

	require.True(t, a.Has(capability.DryRun))
	require.False(t, a.Has(capability.Apply))

	union := a.Union(b)
	require.True(t, union.Has(capability.DryRun))
	require.True(t, union.Has(capability.Apply))
	require.True(t, union.Has(capability.Timeout))
}

func TestSetCloneIsIndependent(t *testing.T) {
	a := capability.NewSet(capability.DryRun)
	clone := a.Clone()
	clone[capability.Apply] = struct{}{}

	require.False(t, a.Has(capability.Apply))
	require.True(t, clone.Has(capability.Apply))
}

func TestSetStringsIsSortedAndDeterministic(t *testing.T) {
	s := capability.NewSet(capability.Timeout, capability.Apply, capability.DryRun)
	require.Equal(t, []string{"apply", "dry_run", "timeout"}, s.Strings())
}
