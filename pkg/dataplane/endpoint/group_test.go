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
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
)

func newTestGroup(t *testing.T, primary []string, secondary []string) *ManagedEndpointGroup {
	t.Helper()
	group := NewManagedEndpointGroup(&v1alpha1.EndpointGroup{Name: "group", Type: "fake"})
	add := func(name string, isSecondary bool) {
		def := &v1alpha1.Endpoint{Name: name, Secondary: isSecondary}
		group.AddManagedEndpoint(NewManagedEndpoint(def, group, connector.NewFakeEndpointConnector(v1alpha1.ApiTypeProxy, connector.ModeRequestResponse)))
	}
	for _, name := range primary {
		add(name, false)
	}
	for _, name := range secondary {
		add(name, true)
	}
	return group
}

func names(endpoints []*ManagedEndpoint) []string {
	out := make([]string, 0, len(endpoints))
	for _, me := range endpoints {
		if me == nil {
			out = append(out, "<nil>")
			continue
		}
		out = append(out, me.Name())
	}
	return out
}

func nextN(group *ManagedEndpointGroup, n int) []*ManagedEndpoint {
	out := make([]*ManagedEndpoint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, group.Next())
	}
	return out
}

func TestGroupPartitionsBySecondary(t *testing.T) {
	group := newTestGroup(t, []string{"a", "b"}, []string{"c"})
	if diff := cmp.Diff([]string{"a", "b"}, names(group.Primary())); diff != "" {
		t.Errorf("Unexpected primary diff (+got/-want): %s", diff)
	}
	if diff := cmp.Diff([]string{"c"}, names(group.Secondary())); diff != "" {
		t.Errorf("Unexpected secondary diff (+got/-want): %s", diff)
	}
	for _, me := range group.Endpoints() {
		assert.Same(t, group, me.Group())
	}
}

func TestGroupNext(t *testing.T) {
	tests := []struct {
		name      string
		primary   []string
		secondary []string
		down      []string
		calls     int
		want      []string
	}{
		{
			name:    "round robin over primary members in insertion order",
			primary: []string{"a", "b", "c"},
			calls:   6,
			want:    []string{"a", "b", "c", "a", "b", "c"},
		},
		{
			name:      "secondary ignored while a primary member is up",
			primary:   []string{"a", "b"},
			secondary: []string{"s"},
			down:      []string{"a"},
			calls:     3,
			want:      []string{"b", "b", "b"},
		},
		{
			name:      "falls back to secondary when no primary member is up",
			primary:   []string{"a", "b"},
			secondary: []string{"s1", "s2"},
			down:      []string{"a", "b"},
			calls:     4,
			want:      []string{"s1", "s2", "s1", "s2"},
		},
		{
			name:      "nothing up",
			primary:   []string{"a"},
			secondary: []string{"s"},
			down:      []string{"a", "s"},
			calls:     2,
			want:      []string{"<nil>", "<nil>"},
		},
		{
			name:  "empty group",
			calls: 1,
			want:  []string{"<nil>"},
		},
		{
			name:    "down members are skipped without biasing the rotation",
			primary: []string{"a", "b", "c"},
			down:    []string{"b"},
			calls:   4,
			want:    []string{"a", "c", "a", "c"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			group := newTestGroup(t, test.primary, test.secondary)
			for _, me := range group.Endpoints() {
				for _, down := range test.down {
					if me.Name() == down {
						me.SetStatus(StatusDown)
					}
				}
			}
			if diff := cmp.Diff(test.want, names(nextN(group, test.calls))); diff != "" {
				t.Errorf("Unexpected selection diff (+got/-want): %s", diff)
			}
		})
	}
}

func TestGroupRemoveManagedEndpoint(t *testing.T) {
	group := newTestGroup(t, []string{"a", "b"}, []string{"s"})

	removed := group.RemoveManagedEndpoint("a")
	if assert.NotNil(t, removed) {
		assert.Equal(t, "a", removed.Name())
	}
	assert.Nil(t, group.RemoveManagedEndpoint("unknown"), "removing an unknown member is a no-op")

	for _, me := range nextN(group, 4) {
		assert.NotEqual(t, "a", me.Name())
	}

	// b was the only UP primary member: once removed, selection falls back to the secondary.
	group.RemoveManagedEndpoint("b")
	assert.Equal(t, "s", group.Next().Name())
	group.RemoveManagedEndpoint("s")
	assert.Nil(t, group.Next())
}

func TestGroupNextMatching(t *testing.T) {
	group := newTestGroup(t, []string{"a", "b"}, nil)
	onlyB := func(me *ManagedEndpoint) bool { return me.Name() == "b" }
	if diff := cmp.Diff([]string{"b", "b"}, names([]*ManagedEndpoint{group.NextMatching(onlyB), group.NextMatching(onlyB)})); diff != "" {
		t.Errorf("Unexpected selection diff (+got/-want): %s", diff)
	}
	assert.Nil(t, group.NextMatching(func(*ManagedEndpoint) bool { return false }))
}

func TestGroupConcurrentSelection(t *testing.T) {
	group := newTestGroup(t, []string{"a", "b", "c", "d"}, nil)

	const goroutines, calls = 8, 400
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[string]int{}
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := map[string]int{}
			for i := 0; i < calls; i++ {
				local[group.Next().Name()]++
			}
			mu.Lock()
			defer mu.Unlock()
			for k, v := range local {
				counts[k] += v
			}
		}()
	}
	wg.Wait()

	want := map[string]int{"a": goroutines * calls / 4, "b": goroutines * calls / 4, "c": goroutines * calls / 4, "d": goroutines * calls / 4}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("Unexpected distribution diff (+got/-want): %s", diff)
	}
}
