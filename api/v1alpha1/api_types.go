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

// Package v1alpha1 contains the definition types of apis served by the data plane.
package v1alpha1

import (
	"encoding/json"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ApiType is the kind of traffic an api carries.
type ApiType string

const (
	// ApiTypeProxy apis forward request/response exchanges to a backend.
	ApiTypeProxy ApiType = "proxy"
	// ApiTypeMessage apis exchange messages with a backend (publish/subscribe).
	ApiTypeMessage ApiType = "message"
)

// Api is an immutable, routed api definition. Once handed to the data plane
// it is only read.
type Api struct {
	// ID uniquely identifies the api across the gateway.
	//
	// +required
	ID string `json:"id"`

	// Name is a human readable name.
	//
	// +optional
	Name string `json:"name,omitempty"`

	// Version of the api definition.
	//
	// +optional
	Version string `json:"version,omitempty"`

	// Type of the api. Defaults to "proxy".
	//
	// +optional
	Type ApiType `json:"type,omitempty"`

	// OrganizationID owning the api.
	//
	// +optional
	OrganizationID string `json:"organizationId,omitempty"`

	// EnvironmentID the api is deployed to.
	//
	// +optional
	EnvironmentID string `json:"environmentId,omitempty"`

	// DeployedAt is the instant the definition was deployed.
	//
	// +optional
	DeployedAt metav1.Time `json:"deployedAt,omitempty"`

	// Listeners declare how clients reach the api. Order matters for entrypoint resolution.
	//
	// +required
	Listeners []Listener `json:"listeners"`

	// EndpointGroups declare the backends of the api. Order matters for selection.
	//
	// +optional
	EndpointGroups []EndpointGroup `json:"endpointGroups,omitempty"`

	// Plans declare how consumers are authenticated.
	//
	// +optional
	Plans []Plan `json:"plans,omitempty"`

	// Flows are api level policy flows.
	//
	// +optional
	Flows []Flow `json:"flows,omitempty"`

	// Resources are named resources shared by the policies of the api.
	//
	// +optional
	Resources []Resource `json:"resources,omitempty"`

	// Failover configures retries on backend failures.
	//
	// +optional
	Failover *Failover `json:"failover,omitempty"`
}

// ListenerType is the transport family a listener binds to.
type ListenerType string

const (
	ListenerTypeHTTP         ListenerType = "http"
	ListenerTypeSubscription ListenerType = "subscription"
)

// Listener binds an api to a transport and declares its entrypoints.
type Listener struct {
	// +required
	Type ListenerType `json:"type"`

	// Paths served by an http listener.
	//
	// +optional
	Paths []Path `json:"paths,omitempty"`

	// Entrypoints handle the client facing side of a request, in declaration order.
	//
	// +required
	Entrypoints []Entrypoint `json:"entrypoints"`
}

// Path is a host and path prefix pair. An empty host matches any host.
type Path struct {
	// +optional
	Host string `json:"host,omitempty"`
	// +required
	Path string `json:"path"`
}

// Entrypoint is a client facing connector declaration.
type Entrypoint struct {
	// Type selects the entrypoint connector factory.
	//
	// +required
	Type string `json:"type"`

	// +optional
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// LoadBalancerType selects how a group rotates over its endpoints.
type LoadBalancerType string

const LoadBalancerRoundRobin LoadBalancerType = "round-robin"

// EndpointGroup is a named set of backends sharing a type and configuration.
type EndpointGroup struct {
	// Name is unique within the api.
	//
	// +required
	Name string `json:"name"`

	// Type is the connector type used by endpoints that do not declare their own.
	//
	// +required
	Type string `json:"type"`

	// LoadBalancer defaults to round-robin.
	//
	// +optional
	LoadBalancer LoadBalancerType `json:"loadBalancer,omitempty"`

	// SharedConfiguration is used by endpoints that inherit their configuration.
	//
	// +optional
	SharedConfiguration json.RawMessage `json:"sharedConfiguration,omitempty"`

	// +optional
	Endpoints []Endpoint `json:"endpoints,omitempty"`
}

// Endpoint is a single backend declaration.
type Endpoint struct {
	// Name is unique within the api.
	//
	// +required
	Name string `json:"name"`

	// Type selects the endpoint connector factory. Defaults to the group type.
	//
	// +optional
	Type string `json:"type,omitempty"`

	// Weight is reserved for weighted load balancing and must be left unset.
	//
	// +optional
	Weight int `json:"weight,omitempty"`

	// Secondary endpoints only serve when no primary endpoint of the group is up.
	//
	// +optional
	Secondary bool `json:"secondary,omitempty"`

	// Backup is reserved and must be left unset. Use Secondary for failover.
	//
	// +optional
	Backup bool `json:"backup,omitempty"`

	// InheritConfiguration makes the endpoint use the shared configuration of its group.
	//
	// +optional
	InheritConfiguration bool `json:"inheritConfiguration,omitempty"`

	// +optional
	Configuration json.RawMessage `json:"configuration,omitempty"`

	// SharedConfigurationOverride replaces the group shared configuration when the
	// endpoint does not inherit it.
	//
	// +optional
	SharedConfigurationOverride json.RawMessage `json:"sharedConfigurationOverride,omitempty"`

	// Tenants restricts the gateways allowed to deploy this endpoint. Empty means all.
	//
	// +optional
	Tenants []string `json:"tenants,omitempty"`
}

// Plan selects how consumers are authenticated and which flows apply to them.
type Plan struct {
	// +required
	ID string `json:"id"`

	// +optional
	Name string `json:"name,omitempty"`

	// +required
	Security PlanSecurity `json:"security"`

	// +optional
	Flows []Flow `json:"flows,omitempty"`
}

// PlanSecurity names a security policy type and its configuration.
type PlanSecurity struct {
	// +required
	Type string `json:"type"`

	// +optional
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// Resource is a named, typed resource started with the api.
type Resource struct {
	// +required
	Name string `json:"name"`

	// +required
	Type string `json:"type"`

	// +optional
	Enabled *bool `json:"enabled,omitempty"`

	// +optional
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// Failover retries backend invocations on another endpoint.
type Failover struct {
	// +optional
	Enabled bool `json:"enabled,omitempty"`

	// MaxAttempts is the total number of invocations, first one included.
	//
	// +optional
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// SlowCallDuration bounds a single invocation. Zero means unbounded.
	//
	// +optional
	SlowCallDuration metav1.Duration `json:"slowCallDuration,omitempty"`
}
