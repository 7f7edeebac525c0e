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
	"fmt"
	"sort"
	"sync"

	"github.com/mcp-tool-shop/nexus-router/pkg/capability"
	"github.com/mcp-tool-shop/nexus-router/pkg/coreerr"
)

// Info is a read-only summary of a registered adapter, for listing.
type Info struct {
	AdapterID    string
	AdapterKind  string
	Capabilities []string
}

// Registry maps adapter_id to Adapter instances plus a default selection.
// A Registry is scoped to whoever constructs it — there is no process-wide
// registry, and registration in one Registry is never observable from
// another.
type Registry struct {
	mu               sync.RWMutex
	adapters         map[string]Adapter
	defaultAdapterID string
}

// NewRegistry creates an empty Registry with the given default adapter id.
// The default id need not be registered yet, but GetDefault fails until
// it is.
func NewRegistry(defaultAdapterID string) *Registry {
	return &Registry{
		adapters:         make(map[string]Adapter),
		defaultAdapterID: defaultAdapterID,
	}
}

// NewSingleAdapterRegistry wraps one adapter into a Registry, supporting
// the legacy single-adapter construction path described in spec §4.3.
// router.New takes a single *Registry parameter, never a separate
// single-adapter argument alongside it, so the two forms have no path
// to collide in this API: a caller either builds a Registry directly or
// wraps one adapter with this constructor, and passes the result to
// router.New either way.
func NewSingleAdapterRegistry(a Adapter) (*Registry, error) {
	if a == nil {
		return nil, coreerr.NewBug(coreerr.CodeBugError, "nil adapter passed to NewSingleAdapterRegistry", nil)
	}
	r := NewRegistry(a.AdapterID())
	if err := r.Register(a); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds an adapter to the registry. Registering the same
// adapter_id twice with different instances is an error; re-registering
// the identical instance is a no-op.
func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return coreerr.NewBug(coreerr.CodeBugError, "nil adapter", nil)
	}
	id := a.AdapterID()
	if id == "" {
		return coreerr.NewBug(coreerr.CodeBugError, "adapter_id must be non-empty", nil)
	}
	if a.AdapterKind() == "" {
		return coreerr.NewBug(coreerr.CodeBugError, "adapter_kind must be non-empty", map[string]any{"adapter_id": id})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.adapters[id]; ok && existing != a {
		return coreerr.NewBug(coreerr.CodeBugError, fmt.Sprintf("adapter_id %q already registered with a different instance", id), nil)
	}
	r.adapters[id] = a
	return nil
}

// Get looks up an adapter by id.
func (r *Registry) Get(adapterID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[adapterID]
	if !ok {
		return nil, coreerr.NewOperational(coreerr.CodeUnknownAdapter, fmt.Sprintf("unknown adapter: %s", adapterID), map[string]any{"adapter_id": adapterID})
	}
	return a, nil
}

// GetDefault looks up the default adapter. It fails if the default id
// has not been registered.
func (r *Registry) GetDefault() (Adapter, error) {
	r.mu.RLock()
	id := r.defaultAdapterID
	r.mu.RUnlock()
	if id == "" {
		return nil, coreerr.NewOperational(coreerr.CodeUnknownAdapter, "no default adapter configured", nil)
	}
	return r.Get(id)
}

// DefaultAdapterID returns the configured default id, whether or not it
// is currently registered.
func (r *Registry) DefaultAdapterID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultAdapterID
}

// ListIDs returns every registered adapter_id, sorted.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListAdapters returns Info for every registered adapter, sorted by id.
func (r *Registry) ListAdapters() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.adapters))
	for id, a := range r.adapters {
		infos = append(infos, Info{
			AdapterID:    id,
			AdapterKind:  a.AdapterKind(),
			Capabilities: a.Capabilities().Strings(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].AdapterID < infos[j].AdapterID })
	return infos
}

// FindByCapability returns the ids of every adapter that declares cap,
// sorted.
func (r *Registry) FindByCapability(cap capability.Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, a := range r.adapters {
		if a.Capabilities().Has(cap) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// HasCapability reports whether the named adapter declares cap. Returns
// false (not an error) if the adapter is unknown.
func (r *Registry) HasCapability(adapterID string, cap capability.Capability) bool {
	a, err := r.Get(adapterID)
	if err != nil {
		return false
	}
	return a.Capabilities().Has(cap)
}

// RequireCapability fails with CAPABILITY_MISSING if the named adapter
// does not declare cap.
func (r *Registry) RequireCapability(adapterID string, cap capability.Capability) error {
	a, err := r.Get(adapterID)
	if err != nil {
		return err
	}
	if !a.Capabilities().Has(cap) {
		return coreerr.NewOperational(coreerr.CodeCapabilityMissing, fmt.Sprintf("adapter %s lacks capability %s", adapterID, cap), map[string]any{
			"required_capability":  string(cap),
			"adapter_capabilities": a.Capabilities().Strings(),
		})
	}
	return nil
}
