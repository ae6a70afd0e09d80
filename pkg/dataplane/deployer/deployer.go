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

// Package deployer keeps one running reactor per deployed api and swaps
// reactors when api definitions change.
package deployer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/multierr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/config/loader"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/endpoint"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/metrics"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/reactor"
	errutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/error"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

const (
	OperationDeploy   = "deploy"
	OperationUndeploy = "undeploy"
)

// Deployer owns the reactors of the deployed apis. Operations are serialized;
// lookups never block on a deployment in progress.
type Deployer struct {
	deps reactor.Dependencies
	opts reactor.Options

	ops sync.Mutex

	mu       sync.RWMutex
	reactors map[string]*reactor.Reactor
}

func New(deps reactor.Dependencies, opts reactor.Options) *Deployer {
	return &Deployer{
		deps:     deps,
		opts:     opts,
		reactors: make(map[string]*reactor.Reactor),
	}
}

// Deploy starts a reactor for api, then replaces and stops the reactor of a
// previous definition of the same api. The previous reactor keeps serving
// when the new one fails to start.
func (d *Deployer) Deploy(ctx context.Context, api *v1alpha1.Api) error {
	d.ops.Lock()
	defer d.ops.Unlock()
	err := d.deploy(ctx, api)
	metrics.RecordDeployment(OperationDeploy, err)
	return err
}

func (d *Deployer) deploy(ctx context.Context, api *v1alpha1.Api) error {
	logger := logutil.ApiLogger(ctx, api.ID, api.Name)
	if err := loader.ValidateApi(api); err != nil {
		return err
	}

	next := reactor.New(api, d.deps, d.opts)
	if err := next.Start(log.IntoContext(ctx, logger)); err != nil {
		logger.Error(err, "Unable to deploy api")
		return err
	}

	d.mu.Lock()
	previous := d.reactors[api.ID]
	d.reactors[api.ID] = next
	d.mu.Unlock()

	if previous != nil {
		logger.V(logutil.DEFAULT).Info("Api redeployed, stopping previous reactor")
		if err := previous.Stop(log.IntoContext(ctx, logger)); err != nil {
			logger.Error(err, "Previous reactor did not stop cleanly")
		}
		return nil
	}
	logger.V(logutil.DEFAULT).Info("Api deployed")
	return nil
}

// Undeploy stops and forgets the reactor of an api.
func (d *Deployer) Undeploy(ctx context.Context, apiID string) error {
	d.ops.Lock()
	defer d.ops.Unlock()
	err := d.undeploy(ctx, apiID)
	metrics.RecordDeployment(OperationUndeploy, err)
	return err
}

func (d *Deployer) undeploy(ctx context.Context, apiID string) error {
	d.mu.Lock()
	r, ok := d.reactors[apiID]
	delete(d.reactors, apiID)
	d.mu.Unlock()
	if !ok {
		return errutil.Error{Code: errutil.NotFound, Msg: fmt.Sprintf("api %s is not deployed", apiID)}
	}

	logger := logutil.ApiLogger(ctx, apiID, r.Api().Name)
	if err := r.Stop(log.IntoContext(ctx, logger)); err != nil {
		logger.Error(err, "Reactor did not stop cleanly")
		return err
	}
	logger.V(logutil.DEFAULT).Info("Api undeployed")
	return nil
}

// Sync converges the deployed apis to the ones of definition: new and changed
// apis are deployed, missing ones undeployed. A change of the platform flows
// redeploys every api.
func (d *Deployer) Sync(ctx context.Context, definition *v1alpha1.GatewayDefinition) error {
	d.ops.Lock()
	defer d.ops.Unlock()
	logger := log.FromContext(ctx)

	platformChanged := !cmp.Equal(d.deps.PlatformFlows, definition.PlatformFlows(), cmpopts.EquateEmpty())
	if platformChanged {
		logger.V(logutil.DEFAULT).Info("Platform flows changed, redeploying every api")
		d.deps.PlatformFlows = definition.PlatformFlows()
	}

	var errs error
	wanted := make(map[string]bool, len(definition.Apis))
	for i := range definition.Apis {
		api := &definition.Apis[i]
		wanted[api.ID] = true
		if current := d.Reactor(api.ID); current != nil && !platformChanged && cmp.Equal(current.Api(), api, cmpopts.EquateEmpty()) {
			logger.V(logutil.DEBUG).Info("Api unchanged", "api", api.ID)
			continue
		}
		err := d.deploy(ctx, api)
		metrics.RecordDeployment(OperationDeploy, err)
		errs = multierr.Append(errs, err)
	}
	for _, id := range d.ids() {
		if !wanted[id] {
			err := d.undeploy(ctx, id)
			metrics.RecordDeployment(OperationUndeploy, err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Stop undeploys every api.
func (d *Deployer) Stop(ctx context.Context) error {
	d.ops.Lock()
	defer d.ops.Unlock()
	var errs error
	for _, id := range d.ids() {
		errs = multierr.Append(errs, d.undeploy(ctx, id))
	}
	return errs
}

func (d *Deployer) ids() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.reactors))
	for id := range d.reactors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reactor returns the reactor of an api, nil when not deployed.
func (d *Deployer) Reactor(apiID string) *reactor.Reactor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reactors[apiID]
}

// Reactors returns the deployed reactors ordered by api id.
func (d *Deployer) Reactors() []*reactor.Reactor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reactors := make([]*reactor.Reactor, 0, len(d.reactors))
	for _, r := range d.reactors {
		reactors = append(reactors, r)
	}
	sort.Slice(reactors, func(i, j int) bool { return reactors[i].Api().ID < reactors[j].Api().ID })
	return reactors
}

// Acceptors returns the acceptors of every deployed reactor.
func (d *Deployer) Acceptors() []reactor.Acceptor {
	var acceptors []reactor.Acceptor
	for _, r := range d.Reactors() {
		acceptors = append(acceptors, r.Acceptors()...)
	}
	return acceptors
}

// EndpointManagers returns the endpoint managers of the running reactors.
func (d *Deployer) EndpointManagers() []*endpoint.Manager {
	var managers []*endpoint.Manager
	for _, r := range d.Reactors() {
		if m := r.EndpointManager(); m != nil {
			managers = append(managers, m)
		}
	}
	return managers
}
