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

// Package security resolves the plan a request is consumed through.
package security

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	errutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/error"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
	"sigs.k8s.io/gateway-api-dataplane/pkg/tracing"
)

// Policy authenticates the requests of one plan.
type Policy interface {
	ID() string
	// Order ranks the policy in the chain, lowest first.
	Order() int
	// Supports reports whether the request carries the credentials the policy
	// checks.
	Supports(ctx context.Context, ec *execution.Context) bool
	// Authenticate checks the credentials of a supported request.
	Authenticate(ctx context.Context, ec *execution.Context) execution.Result
}

// Factory creates the security policy of a plan.
type Factory func(ctx context.Context, plan *v1alpha1.Plan) (Policy, error)

type Factories interface {
	Factory(securityType string) (Factory, bool)
}

// Registry maps plan security types to their factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// DefaultRegistry holds the in-tree security policies.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register makes a security type available. Panics if the type is already registered.
func (r *Registry) Register(securityType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[securityType]; exists {
		panic(fmt.Sprintf("security type %q is already registered", securityType))
	}
	r.factories[securityType] = factory
}

func (r *Registry) Factory(securityType string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[securityType]
	return f, ok
}

// Register makes a security type available in the DefaultRegistry.
func Register(securityType string, factory Factory) {
	DefaultRegistry.Register(securityType, factory)
}

type planPolicy struct {
	plan   *v1alpha1.Plan
	policy Policy
}

// Chain tries the plan policies in order. The first policy supporting the
// request decides: on success the request is bound to its plan.
type Chain struct {
	apiID    string
	tracing  bool
	policies []planPolicy
}

// NewChain builds the chain of the plans of api.
func NewChain(ctx context.Context, api *v1alpha1.Api, factories Factories, tracingEnabled bool) (*Chain, error) {
	c := &Chain{apiID: api.ID, tracing: tracingEnabled}
	for i := range api.Plans {
		plan := &api.Plans[i]
		factory, ok := factories.Factory(plan.Security.Type)
		if !ok {
			return nil, errutil.Error{Code: errutil.BadConfiguration, Msg: fmt.Sprintf("plan %s: security type %q is not registered", plan.ID, plan.Security.Type)}
		}
		p, err := factory(ctx, plan)
		if err != nil {
			return nil, errutil.Error{Code: errutil.BadConfiguration, Msg: fmt.Sprintf("plan %s: %v", plan.ID, err)}
		}
		c.policies = append(c.policies, planPolicy{plan: plan, policy: p})
	}
	sort.SliceStable(c.policies, func(i, j int) bool {
		return c.policies[i].policy.Order() < c.policies[j].policy.Order()
	})
	return c, nil
}

func (c *Chain) Execute(ctx context.Context, ec *execution.Context) (result execution.Result) {
	if c.tracing {
		var span trace.Span
		ctx, span = tracing.StartSpan(ctx, "security")
		defer func() { tracing.EndSpan(span, result.Err()) }()
	}
	logger := log.FromContext(ctx).WithValues("api", c.apiID)
	for _, pp := range c.policies {
		if !pp.policy.Supports(ctx, ec) {
			continue
		}
		result = execution.Recover(func() execution.Result { return pp.policy.Authenticate(ctx, ec) })
		if result.IsContinue() {
			ec.SetAttribute(execution.AttrPlan, pp.plan.ID)
			logger.V(logutil.DEBUG).Info("Request authorized", "plan", pp.plan.ID, "security", pp.policy.ID())
		}
		return result
	}
	return execution.InterruptWith(execution.NewFailure(http.StatusUnauthorized, execution.KeyPlanUnresolvable, "Unauthorized"))
}
