/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package endpoint

import (
	"slices"
	"sync"
	"sync/atomic"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
)

// rotation is a round-robin over a copy-on-write member snapshot.
// Reads never lock; writers are serialized by the owning group.
type rotation struct {
	members atomic.Pointer[[]*ManagedEndpoint]
	cursor  atomic.Uint64
}

func (r *rotation) load() []*ManagedEndpoint {
	if p := r.members.Load(); p != nil {
		return *p
	}
	return nil
}

func (r *rotation) store(members []*ManagedEndpoint) {
	r.members.Store(&members)
}

// next returns the next UP member accepted by filter, skipping others within one lap.
func (r *rotation) next(filter func(*ManagedEndpoint) bool) *ManagedEndpoint {
	members := r.load()
	n := uint64(len(members))
	if n == 0 {
		return nil
	}
	start := r.cursor.Add(1) - 1
	for i := uint64(0); i < n; i++ {
		me := members[(start+i)%n]
		if me.Status() != StatusUp || (filter != nil && !filter(me)) {
			continue
		}
		if i > 0 {
			// Resume after the chosen member so skipped ones do not bias the rotation.
			r.cursor.CompareAndSwap(start+1, start+i+1)
		}
		return me
	}
	return nil
}

// ManagedEndpointGroup holds the managed endpoints of one endpoint group,
// partitioned into primary and secondary members.
type ManagedEndpointGroup struct {
	definition *v1alpha1.EndpointGroup

	mu        sync.Mutex
	primary   rotation
	secondary rotation
}

func NewManagedEndpointGroup(definition *v1alpha1.EndpointGroup) *ManagedEndpointGroup {
	return &ManagedEndpointGroup{definition: definition}
}

func (g *ManagedEndpointGroup) Name() string {
	return g.definition.Name
}

func (g *ManagedEndpointGroup) Definition() *v1alpha1.EndpointGroup {
	return g.definition
}

// AddManagedEndpoint appends me to the primary members, or to the secondary
// ones when its definition is secondary.
func (g *ManagedEndpointGroup) AddManagedEndpoint(me *ManagedEndpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := &g.primary
	if me.Definition().Secondary {
		r = &g.secondary
	}
	members := slices.Clone(r.load())
	r.store(append(members, me))
}

// RemoveManagedEndpoint removes the member with the given name and returns it.
// It is a no-op returning nil when no member has that name.
func (g *ManagedEndpointGroup) RemoveManagedEndpoint(name string) *ManagedEndpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range []*rotation{&g.primary, &g.secondary} {
		members := r.load()
		idx := slices.IndexFunc(members, func(me *ManagedEndpoint) bool { return me.Name() == name })
		if idx < 0 {
			continue
		}
		removed := members[idx]
		r.store(slices.Delete(slices.Clone(members), idx, idx+1))
		return removed
	}
	return nil
}

// Next returns the next UP primary member, round-robin. Secondary members are
// only considered when no primary member is UP. Returns nil when none is UP.
func (g *ManagedEndpointGroup) Next() *ManagedEndpoint {
	return g.NextMatching(nil)
}

// NextMatching is Next restricted to the members accepted by filter.
func (g *ManagedEndpointGroup) NextMatching(filter func(*ManagedEndpoint) bool) *ManagedEndpoint {
	if me := g.primary.next(filter); me != nil {
		return me
	}
	return g.secondary.next(filter)
}

// Primary returns a snapshot of the primary members.
func (g *ManagedEndpointGroup) Primary() []*ManagedEndpoint {
	return g.primary.load()
}

// Secondary returns a snapshot of the secondary members.
func (g *ManagedEndpointGroup) Secondary() []*ManagedEndpoint {
	return g.secondary.load()
}

// Endpoints returns a snapshot of every member, primary ones first.
func (g *ManagedEndpointGroup) Endpoints() []*ManagedEndpoint {
	return append(slices.Clone(g.primary.load()), g.secondary.load()...)
}
