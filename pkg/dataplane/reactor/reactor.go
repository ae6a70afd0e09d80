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

// Package reactor runs the requests of one deployed api through its pipeline
// and owns the lifecycle of the components the pipeline relies on.
package reactor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/endpoint"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/entrypoint"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/metrics"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/node"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/policy"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/processor"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/resource"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/security"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

type component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type preStoppable interface {
	PreStop(ctx context.Context) error
}

type entrypointResolver interface {
	component
	preStoppable
	Resolve(ec *execution.Context) connector.EntrypointConnector
}

type defaultInvoker interface {
	execution.Invoker
	component
	preStoppable
}

type flowChain interface {
	Execute(ctx context.Context, ec *execution.Context, phase execution.Phase) execution.Result
}

type chain interface {
	Execute(ctx context.Context, ec *execution.Context) execution.Result
}

// Reactor handles the requests of one api.
type Reactor struct {
	api  *v1alpha1.Api
	deps Dependencies
	opts Options

	state   node.Lifecycle
	pending atomic.Int64

	resources   component
	policies    component
	entrypoints entrypointResolver
	invoker     defaultInvoker
	endpoints   *endpoint.Manager

	security      chain
	platformFlows flowChain
	planFlows     flowChain
	apiFlows      flowChain
	pre           chain
	post          chain
	errors        chain
	messages      chain
}

func New(api *v1alpha1.Api, deps Dependencies, opts Options) *Reactor {
	if opts.PendingRequestsTimeout <= 0 {
		opts.PendingRequestsTimeout = DefaultPendingRequestsTimeout
	}
	if opts.PendingRequestsPollInterval <= 0 {
		opts.PendingRequestsPollInterval = DefaultPendingRequestsPollInterval
	}
	if opts.RequestTimeoutGraceDelay <= 0 {
		opts.RequestTimeoutGraceDelay = DefaultRequestTimeoutGraceDelay
	}
	return &Reactor{api: api, deps: deps, opts: opts}
}

func (r *Reactor) Api() *v1alpha1.Api {
	return r.api
}

func (r *Reactor) LifecycleState() node.State {
	return r.state.LifecycleState()
}

// Pending returns the number of requests being handled.
func (r *Reactor) Pending() int64 {
	return r.pending.Load()
}

// EndpointManager returns the managed endpoints of the api, nil when the
// reactor is not started or resolves endpoints directly.
func (r *Reactor) EndpointManager() *endpoint.Manager {
	if r.state.LifecycleState() != node.Started {
		return nil
	}
	return r.endpoints
}

// Start builds and starts the components of the api pipeline. On failure,
// the components already started are stopped and the reactor stays STOPPED.
func (r *Reactor) Start(ctx context.Context) error {
	if !r.state.Transition(node.Stopped, node.Starting) {
		return fmt.Errorf("reactor of api %s cannot start while %s", r.api.ID, r.state.LifecycleState())
	}
	logger := log.FromContext(ctx).WithValues("api", r.api.ID)
	started := time.Now()

	var running []component
	if err := r.build(ctx, &running); err != nil {
		for i := len(running) - 1; i >= 0; i-- {
			_ = stopSafely(ctx, running[i])
		}
		r.state.Set(node.Stopped)
		return fmt.Errorf("failed to start reactor of api %s: %w", r.api.ID, err)
	}

	r.state.Set(node.Started)
	logger.V(logutil.DEFAULT).Info("Reactor started", "type", r.api.EffectiveType(), "elapsed", time.Since(started))
	return nil
}

func (r *Reactor) build(ctx context.Context, running *[]component) error {
	start := func(c component) error {
		if err := c.Start(ctx); err != nil {
			return err
		}
		*running = append(*running, c)
		return nil
	}

	resources := resource.NewManager(r.api, r.deps.Resources)
	if err := start(resources); err != nil {
		return err
	}
	r.resources = resources

	policies := policy.NewManager(r.api.ID, r.deps.Policies, policy.WithTracing(r.opts.Tracing))
	if err := start(policies); err != nil {
		return err
	}
	r.policies = policies

	securityChain, err := security.NewChain(ctx, r.api, r.deps.Security, r.opts.Tracing)
	if err != nil {
		return err
	}
	r.security = securityChain

	if r.platformFlows, err = policies.NewFlowChain(ctx, "platform", r.deps.PlatformFlows); err != nil {
		return err
	}
	if r.planFlows, err = policies.NewPlanFlowChain(ctx, r.api.Plans); err != nil {
		return err
	}
	if r.apiFlows, err = policies.NewFlowChain(ctx, "api", r.api.Flows); err != nil {
		return err
	}

	r.pre = processor.NewPreProcessorChain(r.opts.Tracing)
	r.post = processor.NewPostProcessorChain(r.deps.Node, r.opts.Tracing)
	r.errors = processor.NewErrorProcessorChain(r.deps.Node, r.opts.Tracing)
	r.messages = processor.NewMessageProcessorChain(r.opts.Tracing)

	entrypoints := entrypoint.NewResolver(ctx, r.api, r.deps.Connectors)
	if err := start(entrypoints); err != nil {
		return err
	}
	r.entrypoints = entrypoints

	var selector endpoint.Selector
	if r.opts.DirectEndpointResolution {
		selector = endpoint.NewConnectorResolver(r.api, r.deps.Connectors)
	} else {
		r.endpoints = endpoint.NewManager(r.api, r.deps.Connectors, endpoint.WithTenant(r.opts.Tenant))
		selector = r.endpoints
	}
	invoker := endpoint.NewInvoker(selector, r.api.Failover)
	if err := start(invoker); err != nil {
		return err
	}
	r.invoker = invoker
	return nil
}

// Stop refuses new requests, lets in-flight requests complete when the node
// is running, then stops every component.
func (r *Reactor) Stop(ctx context.Context) error {
	if !r.state.Transition(node.Started, node.Stopping) {
		if state := r.state.LifecycleState(); state != node.Stopped {
			return fmt.Errorf("reactor of api %s cannot stop while %s", r.api.ID, state)
		}
		return nil
	}
	logger := log.FromContext(ctx).WithValues("api", r.api.ID)
	logger.V(logutil.DEFAULT).Info("Stopping reactor", "pending", r.pending.Load())

	var errs error
	for _, c := range []struct {
		name string
		c    preStoppable
	}{
		{name: "entrypoint-resolver", c: r.entrypoints},
		{name: "invoker", c: r.invoker},
	} {
		if c.c == nil {
			continue
		}
		if err := callSafely(func() error { return c.c.PreStop(ctx) }); err != nil {
			logger.Error(err, "Unable to pre-stop reactor component", "component", c.name)
			errs = multierr.Append(errs, fmt.Errorf("pre-stop %s: %w", c.name, err))
		}
	}

	if r.deps.Node == nil || r.deps.Node.LifecycleState() != node.Started {
		logger.V(logutil.VERBOSE).Info("Node is not running, stopping reactor without waiting for pending requests")
	} else {
		r.waitForPendingRequests(ctx)
	}

	for _, c := range []struct {
		name string
		c    component
	}{
		{name: "entrypoint-resolver", c: r.entrypoints},
		{name: "invoker", c: r.invoker},
		{name: "resource-manager", c: r.resources},
		{name: "policy-manager", c: r.policies},
	} {
		if err := stopSafely(ctx, c.c); err != nil {
			logger.Error(err, "Unable to stop reactor component", "component", c.name)
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", c.name, err))
		}
	}

	metrics.DeletePendingRequests(r.api.ID)
	r.state.Set(node.Stopped)
	logger.V(logutil.DEFAULT).Info("Reactor stopped")
	return errs
}

func (r *Reactor) waitForPendingRequests(ctx context.Context) {
	logger := log.FromContext(ctx).WithValues("api", r.api.ID)
	err := wait.PollUntilContextTimeout(ctx, r.opts.PendingRequestsPollInterval, r.opts.PendingRequestsTimeout, true,
		func(context.Context) (bool, error) {
			pending := r.pending.Load()
			logger.V(logutil.TRACE).Info("Waiting for pending requests", "pending", pending)
			return pending <= 0, nil
		})
	if err != nil {
		logger.Info("Pending requests did not complete in time, stopping anyway",
			"pending", r.pending.Load(), "timeout", r.opts.PendingRequestsTimeout)
		return
	}
	logger.V(logutil.VERBOSE).Info("No pending request left")
}

func stopSafely(ctx context.Context, c component) error {
	if c == nil {
		return nil
	}
	return callSafely(func() error { return c.Stop(ctx) })
}

func callSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
