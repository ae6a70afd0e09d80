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

package policy

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	errutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/error"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
	"sigs.k8s.io/gateway-api-dataplane/pkg/tracing"
)

var phases = []execution.Phase{
	execution.PhaseRequest,
	execution.PhaseResponse,
	execution.PhaseMessageRequest,
	execution.PhaseMessageResponse,
}

// Manager creates the policies of one api and stops them with the api.
type Manager struct {
	apiID     string
	factories Factories
	tracing   bool

	mu      sync.Mutex
	created []Policy
}

type Option func(*Manager)

// WithTracing wraps every chain built by the manager in a span.
func WithTracing(enabled bool) Option {
	return func(m *Manager) {
		m.tracing = enabled
	}
}

func NewManager(apiID string, factories Factories, opts ...Option) *Manager {
	m := &Manager{apiID: apiID, factories: factories}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Start(ctx context.Context) error {
	log.FromContext(ctx).V(logutil.VERBOSE).Info("Policy manager started", "api", m.apiID)
	return nil
}

// Stop stops every created policy implementing Stoppable. All are attempted.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	created := m.created
	m.created = nil
	m.mu.Unlock()

	logger := log.FromContext(ctx).WithValues("api", m.apiID)
	var errs error
	for _, p := range created {
		s, ok := p.(Stoppable)
		if !ok {
			continue
		}
		if err := s.Stop(ctx); err != nil {
			logger.Error(err, "Unable to stop policy", "policy", p.ID())
			errs = multierr.Append(errs, fmt.Errorf("stop policy %s: %w", p.ID(), err))
		}
	}
	return errs
}

// Create instantiates the policy of a step.
func (m *Manager) Create(ctx context.Context, step v1alpha1.Step) (p Policy, err error) {
	factory, ok := m.factories.Factory(step.Policy)
	if !ok {
		return nil, errutil.Error{Code: errutil.BadConfiguration, Msg: fmt.Sprintf("policy type %q is not registered", step.Policy)}
	}
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("policy factory panicked: %v", r)
		}
	}()
	p, err = factory(ctx, step.Configuration)
	if err != nil {
		return nil, errutil.Error{Code: errutil.BadConfiguration, Msg: fmt.Sprintf("policy %s: %v", step.Policy, err)}
	}
	if p == nil {
		return nil, errutil.Error{Code: errutil.BadConfiguration, Msg: fmt.Sprintf("policy factory %s returned no policy", step.Policy)}
	}
	m.mu.Lock()
	m.created = append(m.created, p)
	m.mu.Unlock()
	return p, nil
}

// NewFlowChain builds the chains of every phase from the enabled flows and
// steps, in declaration order.
func (m *Manager) NewFlowChain(ctx context.Context, id string, flows []v1alpha1.Flow) (*FlowChain, error) {
	logger := log.FromContext(ctx).WithValues("api", m.apiID, "chain", id)
	fc := &FlowChain{chains: make(map[execution.Phase]*Chain, len(phases))}
	for _, phase := range phases {
		chain := &Chain{id: fmt.Sprintf("%s-%s", id, phase), tracing: m.tracing}
		for i := range flows {
			flow := &flows[i]
			if !flow.IsEnabled() {
				continue
			}
			for _, step := range stepsOf(flow, phase) {
				if !step.IsEnabled() {
					continue
				}
				p, err := m.Create(ctx, step)
				if err != nil {
					return nil, err
				}
				run, ok := hook(p, phase)
				if !ok {
					logger.Info("Policy does not support the phase of its step, ignoring it", "policy", step.Policy, "phase", phase)
					continue
				}
				chain.steps = append(chain.steps, chainStep{name: step.Policy, run: run})
			}
		}
		fc.chains[phase] = chain
	}
	return fc, nil
}

// NewPlanFlowChain builds one flow chain per plan.
func (m *Manager) NewPlanFlowChain(ctx context.Context, plans []v1alpha1.Plan) (*PlanFlowChain, error) {
	pc := &PlanFlowChain{plans: make(map[string]*FlowChain, len(plans))}
	for i := range plans {
		fc, err := m.NewFlowChain(ctx, "plan-"+plans[i].ID, plans[i].Flows)
		if err != nil {
			return nil, err
		}
		pc.plans[plans[i].ID] = fc
	}
	return pc, nil
}

func stepsOf(flow *v1alpha1.Flow, phase execution.Phase) []v1alpha1.Step {
	switch phase {
	case execution.PhaseRequest:
		return flow.Request
	case execution.PhaseResponse:
		return flow.Response
	case execution.PhaseMessageRequest:
		return flow.Publish
	case execution.PhaseMessageResponse:
		return flow.Subscribe
	}
	return nil
}

type chainStep struct {
	name string
	run  func(ctx context.Context, ec *execution.Context) execution.Result
}

// Chain runs the policies of one phase in order, stopping at the first
// interruption.
type Chain struct {
	id      string
	tracing bool
	steps   []chainStep
}

func (c *Chain) ID() string {
	return c.id
}

func (c *Chain) Len() int {
	return len(c.steps)
}

func (c *Chain) Execute(ctx context.Context, ec *execution.Context) (result execution.Result) {
	if c == nil || len(c.steps) == 0 {
		return execution.Continue()
	}
	if c.tracing {
		var span trace.Span
		ctx, span = tracing.StartSpan(ctx, c.id)
		defer func() { tracing.EndSpan(span, result.Err()) }()
	}
	logger := log.FromContext(ctx)
	for _, s := range c.steps {
		result = execution.Recover(func() execution.Result { return s.run(ctx, ec) })
		if result.IsInterrupted() {
			logger.V(logutil.DEBUG).Info("Policy interrupted the chain", "chain", c.id, "policy", s.name)
			return result
		}
	}
	return execution.Continue()
}

// FlowChain holds the chains of one level, platform or api, by phase.
type FlowChain struct {
	chains map[execution.Phase]*Chain
}

func (fc *FlowChain) Chain(phase execution.Phase) *Chain {
	if fc == nil {
		return nil
	}
	return fc.chains[phase]
}

func (fc *FlowChain) Execute(ctx context.Context, ec *execution.Context, phase execution.Phase) execution.Result {
	return fc.Chain(phase).Execute(ctx, ec)
}

// PlanFlowChain runs the flows of the plan the request was authorized with.
type PlanFlowChain struct {
	plans map[string]*FlowChain
}

func (pc *PlanFlowChain) Execute(ctx context.Context, ec *execution.Context, phase execution.Phase) execution.Result {
	if pc == nil {
		return execution.Continue()
	}
	return pc.plans[ec.StringAttribute(execution.AttrPlan)].Execute(ctx, ec, phase)
}
