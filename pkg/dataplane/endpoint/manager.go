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
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/metrics"
	errutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/error"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

// Event is the kind of change notified to manager listeners.
type Event string

const (
	EventAdd    Event = "ADD"
	EventRemove Event = "REMOVE"
)

// Listener is notified when a managed endpoint is added or removed.
type Listener func(event Event, me *ManagedEndpoint)

// Manager owns the managed endpoint groups of one api.
type Manager struct {
	api       *v1alpha1.Api
	factories connector.EndpointFactories
	tenant    string

	mu        sync.RWMutex
	groups    []*ManagedEndpointGroup
	listeners []Listener
	// endpoints indexes managed endpoints by name.
	endpoints sync.Map
	started   atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithTenant restricts deployment to endpoints without tenants or listing tenant.
func WithTenant(tenant string) Option {
	return func(m *Manager) {
		m.tenant = tenant
	}
}

func NewManager(api *v1alpha1.Api, factories connector.EndpointFactories, opts ...Option) *Manager {
	m := &Manager{
		api:       api,
		factories: factories,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates one managed group per endpoint group and starts a connector
// for every endpoint. A failing endpoint is logged and skipped; it never
// prevents its siblings from starting.
func (m *Manager) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithValues("api", m.api.ID)

	m.mu.Lock()
	if m.started.Load() {
		m.mu.Unlock()
		return nil
	}
	var added []*ManagedEndpoint
	for i := range m.api.EndpointGroups {
		def := &m.api.EndpointGroups[i]
		group := NewManagedEndpointGroup(def)
		m.groups = append(m.groups, group)
		for j := range def.Endpoints {
			if me := m.deploy(ctx, group, &def.Endpoints[j]); me != nil {
				added = append(added, me)
			}
		}
	}
	m.started.Store(true)
	m.mu.Unlock()

	for _, me := range added {
		m.notify(EventAdd, me)
	}
	logger.V(logutil.DEFAULT).Info("Endpoint manager started", "groups", len(m.api.EndpointGroups), "endpoints", len(added))
	return nil
}

// deploy creates, starts and registers the connector of one endpoint.
// Returns nil when the endpoint was skipped.
func (m *Manager) deploy(ctx context.Context, group *ManagedEndpointGroup, def *v1alpha1.Endpoint) *ManagedEndpoint {
	logger := log.FromContext(ctx).WithValues("api", m.api.ID, "group", group.Name(), "endpoint", def.Name)
	if !m.tenantAllowed(def) {
		logger.V(logutil.DEBUG).Info("Skipping endpoint not deployable on this gateway tenant", "tenant", m.tenant, "tenants", def.Tenants)
		return nil
	}

	c, err := m.createAndStart(ctx, group.Definition(), def)
	if err != nil {
		metrics.RecordEndpointStartError(m.api.ID, def.ConnectorType(group.Definition()))
		logger.Error(err, "Unable to deploy endpoint, skipping it")
		return nil
	}

	me := NewManagedEndpoint(def, group, c)
	group.AddManagedEndpoint(me)
	m.endpoints.Store(def.Name, me)
	logger.V(logutil.DEBUG).Info("Endpoint deployed", "type", c.ID(), "secondary", def.Secondary)
	return me
}

func (m *Manager) createAndStart(ctx context.Context, group *v1alpha1.EndpointGroup, def *v1alpha1.Endpoint) (c connector.EndpointConnector, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("endpoint connector panicked: %v", r)
		}
	}()

	connectorType := def.ConnectorType(group)
	factory, ok := m.factories.EndpointFactory(connectorType)
	if !ok {
		return nil, fmt.Errorf("endpoint connector type %q is not registered", connectorType)
	}
	configuration, shared := configurationFor(group, def)
	c, err = factory(ctx, configuration, shared)
	if err != nil {
		return nil, fmt.Errorf("failed to create endpoint connector (type %s): %w", connectorType, err)
	}
	if c == nil {
		return nil, fmt.Errorf("endpoint connector factory (type %s) returned no connector", connectorType)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start endpoint connector (type %s): %w", connectorType, err)
	}
	return c, nil
}

func (m *Manager) tenantAllowed(def *v1alpha1.Endpoint) bool {
	return m.tenant == "" || len(def.Tenants) == 0 || slices.Contains(def.Tenants, m.tenant)
}

// Next returns the next UP endpoint of the first group, or nil.
func (m *Manager) Next() *ManagedEndpoint {
	return m.NextWithCriteria(Criteria{})
}

// NextWithCriteria selects an endpoint:
//   - a name matching an endpoint returns that endpoint when it is UP and compatible, nil otherwise;
//   - a name matching a group rotates within that group;
//   - a name matching neither returns nil;
//   - no name rotates within the first group.
//
// Compatibility is checked against the capabilities of the connector.
func (m *Manager) NextWithCriteria(criteria Criteria) *ManagedEndpoint {
	if !m.started.Load() {
		return nil
	}
	if criteria.Name != "" {
		if v, ok := m.endpoints.Load(criteria.Name); ok {
			me := v.(*ManagedEndpoint)
			if me.Status() == StatusUp && criteria.accepts(me) {
				return me
			}
			return nil
		}
		if group := m.Group(criteria.Name); group != nil {
			return group.NextMatching(criteria.accepts)
		}
		return nil
	}

	m.mu.RLock()
	var first *ManagedEndpointGroup
	if len(m.groups) > 0 {
		first = m.groups[0]
	}
	m.mu.RUnlock()
	if first == nil {
		return nil
	}
	return first.NextMatching(criteria.accepts)
}

// Select returns the connector of the endpoint chosen for a request, or nil.
func (m *Manager) Select(_ context.Context, ec *execution.Context) connector.EndpointConnector {
	me := m.NextWithCriteria(CriteriaFor(ec))
	if me == nil {
		return nil
	}
	return me.Connector()
}

// Group returns the managed group with the given name, or nil.
func (m *Manager) Group(name string) *ManagedEndpointGroup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, group := range m.groups {
		if group.Name() == name {
			return group
		}
	}
	return nil
}

// Groups returns the managed groups in declaration order.
func (m *Manager) Groups() []*ManagedEndpointGroup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.groups)
}

// Endpoint returns the managed endpoint with the given name, or nil.
func (m *Manager) Endpoint(name string) *ManagedEndpoint {
	if v, ok := m.endpoints.Load(name); ok {
		return v.(*ManagedEndpoint)
	}
	return nil
}

// Endpoints returns every managed endpoint, group by group.
func (m *Manager) Endpoints() []*ManagedEndpoint {
	var all []*ManagedEndpoint
	for _, group := range m.Groups() {
		all = append(all, group.Endpoints()...)
	}
	return all
}

// Api returns the definition the manager was built from.
func (m *Manager) Api() *v1alpha1.Api {
	return m.api
}

// AddOrUpdateEndpoint deploys def into the named group. An endpoint with the
// same name is removed first, so listeners observe REMOVE then ADD. Endpoint
// names are unique across the api: a name owned by another group is rejected.
func (m *Manager) AddOrUpdateEndpoint(ctx context.Context, groupName string, def v1alpha1.Endpoint) error {
	group := m.Group(groupName)
	if group == nil {
		return errutil.Error{Code: errutil.NotFound, Msg: fmt.Sprintf("endpoint group %s not found in api %s", groupName, m.api.ID)}
	}
	if existing := m.Endpoint(def.Name); existing != nil && existing.Group() != group {
		return errutil.Error{Code: errutil.BadConfiguration, Msg: fmt.Sprintf("endpoint %s already belongs to group %s in api %s",
			def.Name, existing.Group().Name(), m.api.ID)}
	}
	m.RemoveEndpoint(ctx, def.Name)

	me := m.deploy(ctx, group, &def)
	if me == nil {
		return errutil.Error{Code: errutil.BadConfiguration, Msg: fmt.Sprintf("endpoint %s could not be deployed", def.Name)}
	}
	m.notify(EventAdd, me)
	return nil
}

// RemoveEndpoint removes and stops the named endpoint. Returns the removed
// endpoint, nil when no endpoint has that name.
func (m *Manager) RemoveEndpoint(ctx context.Context, name string) *ManagedEndpoint {
	v, ok := m.endpoints.LoadAndDelete(name)
	if !ok {
		return nil
	}
	me := v.(*ManagedEndpoint)
	me.Group().RemoveManagedEndpoint(name)
	m.notify(EventRemove, me)

	logger := log.FromContext(ctx).WithValues("api", m.api.ID, "endpoint", name)
	if err := multierr.Append(safeCall(func() error { return me.Connector().PreStop(ctx) }),
		safeCall(func() error { return me.Connector().Stop(ctx) })); err != nil {
		logger.Error(err, "Unable to stop removed endpoint connector")
	}
	return me
}

// Disable marks an endpoint DOWN.
func (m *Manager) Disable(me *ManagedEndpoint) {
	me.SetStatus(StatusDown)
}

// Enable marks an endpoint UP.
func (m *Manager) Enable(me *ManagedEndpoint) {
	me.SetStatus(StatusUp)
}

// AddListener registers l for endpoint additions and removals.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) notify(event Event, me *ManagedEndpoint) {
	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	m.mu.RUnlock()
	for _, l := range listeners {
		l(event, me)
	}
}

// TemplateVariables exposes every group and endpoint name as "name:", the
// form accepted by the request endpoint attribute. Empty before Start.
func (m *Manager) TemplateVariables() map[string]string {
	vars := make(map[string]string)
	if !m.started.Load() {
		return vars
	}
	for _, group := range m.Groups() {
		vars[group.Name()] = group.Name() + ":"
		for _, me := range group.Endpoints() {
			vars[me.Name()] = me.Name() + ":"
		}
	}
	return vars
}

// PreStop calls PreStop on every connector. Failures are logged and do not
// prevent the remaining connectors from being called.
func (m *Manager) PreStop(ctx context.Context) error {
	return m.forEachConnector(ctx, "preStop", func(c connector.EndpointConnector) error {
		return c.PreStop(ctx)
	})
}

// Stop calls Stop on every connector. Failures are logged and do not prevent
// the remaining connectors from being stopped. The stopped endpoints are
// dropped, so a later Start deploys the api afresh.
func (m *Manager) Stop(ctx context.Context) error {
	err := m.forEachConnector(ctx, "stop", func(c connector.EndpointConnector) error {
		return c.Stop(ctx)
	})
	m.started.Store(false)

	m.mu.Lock()
	m.groups = nil
	m.mu.Unlock()
	m.endpoints.Range(func(k, _ any) bool {
		m.endpoints.Delete(k)
		return true
	})
	return err
}

func (m *Manager) forEachConnector(ctx context.Context, operation string, fn func(c connector.EndpointConnector) error) error {
	logger := log.FromContext(ctx).WithValues("api", m.api.ID)
	var errs error
	for _, me := range m.Endpoints() {
		if err := safeCall(func() error { return fn(me.Connector()) }); err != nil {
			logger.Error(err, "Endpoint connector lifecycle call failed", "operation", operation,
				"group", me.Group().Name(), "endpoint", me.Name())
			errs = multierr.Append(errs, fmt.Errorf("%s endpoint %s: %w", operation, me.Name(), err))
		}
	}
	return errs
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
