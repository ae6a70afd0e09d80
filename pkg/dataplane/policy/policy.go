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

// Package policy runs the policy flows of the platform, of plans and of apis.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
)

// Policy is a named policy instance. A policy takes part in every phase whose
// hook it implements.
type Policy interface {
	ID() string
}

// RequestPolicy runs in the REQUEST phase.
type RequestPolicy interface {
	Policy
	OnRequest(ctx context.Context, ec *execution.Context) execution.Result
}

// ResponsePolicy runs in the RESPONSE phase.
type ResponsePolicy interface {
	Policy
	OnResponse(ctx context.Context, ec *execution.Context) execution.Result
}

// MessageRequestPolicy runs in the MESSAGE_REQUEST phase of message apis.
type MessageRequestPolicy interface {
	Policy
	OnMessageRequest(ctx context.Context, ec *execution.Context) execution.Result
}

// MessageResponsePolicy runs in the MESSAGE_RESPONSE phase of message apis.
type MessageResponsePolicy interface {
	Policy
	OnMessageResponse(ctx context.Context, ec *execution.Context) execution.Result
}

// Stoppable policies are stopped with the policy manager that created them.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// Factory creates a policy from a step configuration.
type Factory func(ctx context.Context, configuration json.RawMessage) (Policy, error)

// Factories looks up policy factories by type.
type Factories interface {
	Factory(policyType string) (Factory, bool)
}

// Registry maps policy types to their factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// DefaultRegistry holds the in-tree policies.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register makes a policy type available. Panics if the type is already registered.
func (r *Registry) Register(policyType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[policyType]; exists {
		panic(fmt.Sprintf("policy type %q is already registered", policyType))
	}
	r.factories[policyType] = factory
}

func (r *Registry) Factory(policyType string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[policyType]
	return f, ok
}

// Types returns the registered policy types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Register makes a policy type available in the DefaultRegistry.
func Register(policyType string, factory Factory) {
	DefaultRegistry.Register(policyType, factory)
}

// hook returns the function running p in phase, if p implements it.
func hook(p Policy, phase execution.Phase) (func(context.Context, *execution.Context) execution.Result, bool) {
	switch phase {
	case execution.PhaseRequest:
		if h, ok := p.(RequestPolicy); ok {
			return h.OnRequest, true
		}
	case execution.PhaseResponse:
		if h, ok := p.(ResponsePolicy); ok {
			return h.OnResponse, true
		}
	case execution.PhaseMessageRequest:
		if h, ok := p.(MessageRequestPolicy); ok {
			return h.OnMessageRequest, true
		}
	case execution.PhaseMessageResponse:
		if h, ok := p.(MessageResponsePolicy); ok {
			return h.OnMessageResponse, true
		}
	}
	return nil, false
}
