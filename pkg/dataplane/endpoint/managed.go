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
	"sync/atomic"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
)

// Status is the availability of a managed endpoint.
type Status int32

const (
	StatusUp Status = iota
	StatusDown
)

func (s Status) String() string {
	if s == StatusUp {
		return "UP"
	}
	return "DOWN"
}

// ManagedEndpoint binds an endpoint definition to its started connector.
type ManagedEndpoint struct {
	definition *v1alpha1.Endpoint
	// group is a non-owning reference; the group owns the endpoint.
	group     *ManagedEndpointGroup
	connector connector.EndpointConnector
	status    atomic.Int32
}

// NewManagedEndpoint returns an UP managed endpoint.
func NewManagedEndpoint(definition *v1alpha1.Endpoint, group *ManagedEndpointGroup, c connector.EndpointConnector) *ManagedEndpoint {
	me := &ManagedEndpoint{
		definition: definition,
		group:      group,
		connector:  c,
	}
	me.status.Store(int32(StatusUp))
	return me
}

func (me *ManagedEndpoint) Name() string {
	return me.definition.Name
}

func (me *ManagedEndpoint) Definition() *v1alpha1.Endpoint {
	return me.definition
}

func (me *ManagedEndpoint) Group() *ManagedEndpointGroup {
	return me.group
}

func (me *ManagedEndpoint) Connector() connector.EndpointConnector {
	return me.connector
}

func (me *ManagedEndpoint) Status() Status {
	return Status(me.status.Load())
}

// SetStatus is used by health checks and by Manager.Enable/Disable.
func (me *ManagedEndpoint) SetStatus(status Status) {
	me.status.Store(int32(status))
}
