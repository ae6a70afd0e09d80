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

// Package resource manages the named resources an api shares between its
// policies.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

// Resource is a started, named resource.
type Resource interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Factory creates a resource from its configuration.
type Factory func(ctx context.Context, name string, configuration json.RawMessage) (Resource, error)

type Factories interface {
	Factory(resourceType string) (Factory, bool)
}

// Registry maps resource types to their factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// DefaultRegistry holds the in-tree resource types.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register makes a resource type available. Panics if the type is already registered.
func (r *Registry) Register(resourceType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[resourceType]; exists {
		panic(fmt.Sprintf("resource type %q is already registered", resourceType))
	}
	r.factories[resourceType] = factory
}

func (r *Registry) Factory(resourceType string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[resourceType]
	return f, ok
}

// Register makes a resource type available in the DefaultRegistry.
func Register(resourceType string, factory Factory) {
	DefaultRegistry.Register(resourceType, factory)
}

// Manager starts the enabled resources of an api and stops them with it.
type Manager struct {
	api       *v1alpha1.Api
	factories Factories

	mu        sync.RWMutex
	resources map[string]Resource
	order     []string
}

func NewManager(api *v1alpha1.Api, factories Factories) *Manager {
	return &Manager{api: api, factories: factories, resources: make(map[string]Resource)}
}

// Start starts every enabled resource. Resources failing to be created or
// started are logged and left out.
func (m *Manager) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithValues("api", m.api.ID)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.api.Resources {
		def := &m.api.Resources[i]
		if !def.IsEnabled() {
			continue
		}
		factory, ok := m.factories.Factory(def.Type)
		if !ok {
			logger.Info("No resource registered for type, skipping resource", "resource", def.Name, "type", def.Type)
			continue
		}
		r, err := factory(ctx, def.Name, def.Configuration)
		if err == nil && r == nil {
			err = fmt.Errorf("resource factory returned no resource")
		}
		if err == nil {
			err = r.Start(ctx)
		}
		if err != nil {
			logger.Error(err, "Unable to start resource, skipping it", "resource", def.Name, "type", def.Type)
			continue
		}
		m.resources[def.Name] = r
		m.order = append(m.order, def.Name)
		logger.V(logutil.DEBUG).Info("Resource started", "resource", def.Name, "type", def.Type)
	}
	return nil
}

// Get returns a started resource by name.
func (m *Manager) Get(name string) (Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[name]
	return r, ok
}

// Stop stops every started resource, in reverse start order. All are attempted.
func (m *Manager) Stop(ctx context.Context) error {
	logger := log.FromContext(ctx).WithValues("api", m.api.ID)
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		if err := m.resources[name].Stop(ctx); err != nil {
			logger.Error(err, "Unable to stop resource", "resource", name)
			errs = multierr.Append(errs, fmt.Errorf("stop resource %s: %w", name, err))
		}
	}
	m.resources = make(map[string]Resource)
	m.order = nil
	return errs
}

const NoopResourceType = "noop"

// Noop is a resource without behavior.
type Noop struct {
	name string
}

func NoopFactory(_ context.Context, name string, _ json.RawMessage) (Resource, error) {
	return &Noop{name: name}, nil
}

func (n *Noop) Name() string { return n.name }

func (n *Noop) Start(context.Context) error { return nil }

func (n *Noop) Stop(context.Context) error { return nil }
