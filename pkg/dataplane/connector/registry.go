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

package connector

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps connector types to their factories.
// It is populated at startup and read on every deployment.
type Registry struct {
	mu          sync.RWMutex
	endpoints   map[string]EndpointFactory
	entrypoints map[string]EntrypointFactory
}

// DefaultRegistry holds the in-tree connectors and any registered out-of-tree ones.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		endpoints:   make(map[string]EndpointFactory),
		entrypoints: make(map[string]EntrypointFactory),
	}
}

// RegisterEndpoint makes an endpoint connector type available.
// Panics if the type is already registered.
func (r *Registry) RegisterEndpoint(connectorType string, factory EndpointFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.endpoints[connectorType]; exists {
		panic(fmt.Sprintf("endpoint connector type %q is already registered", connectorType))
	}
	r.endpoints[connectorType] = factory
}

// RegisterEntrypoint makes an entrypoint connector type available.
// Panics if the type is already registered.
func (r *Registry) RegisterEntrypoint(connectorType string, factory EntrypointFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entrypoints[connectorType]; exists {
		panic(fmt.Sprintf("entrypoint connector type %q is already registered", connectorType))
	}
	r.entrypoints[connectorType] = factory
}

func (r *Registry) EndpointFactory(connectorType string) (EndpointFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.endpoints[connectorType]
	return f, ok
}

func (r *Registry) EntrypointFactory(connectorType string) (EntrypointFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.entrypoints[connectorType]
	return f, ok
}

// EndpointTypes returns the registered endpoint connector types, sorted.
func (r *Registry) EndpointTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.endpoints))
	for t := range r.endpoints {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// EntrypointTypes returns the registered entrypoint connector types, sorted.
func (r *Registry) EntrypointTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entrypoints))
	for t := range r.entrypoints {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RegisterEndpoint registers an endpoint connector type in the DefaultRegistry.
func RegisterEndpoint(connectorType string, factory EndpointFactory) {
	DefaultRegistry.RegisterEndpoint(connectorType, factory)
}

// RegisterEntrypoint registers an entrypoint connector type in the DefaultRegistry.
func RegisterEntrypoint(connectorType string, factory EntrypointFactory) {
	DefaultRegistry.RegisterEntrypoint(connectorType, factory)
}
