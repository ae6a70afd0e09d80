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

// Package connector defines the capability contracts of entrypoint and endpoint
// connectors and the registry mapping connector types to their factories.
package connector

import (
	"context"
	"encoding/json"

	"k8s.io/apimachinery/pkg/util/sets"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
)

// Mode is a capability flag matched between entrypoints and endpoints.
type Mode string

const (
	ModeRequestResponse Mode = "REQUEST_RESPONSE"
	ModePublish         Mode = "PUBLISH"
	ModeSubscribe       Mode = "SUBSCRIBE"
)

// Modes is a convenience constructor for a mode set.
func Modes(modes ...Mode) sets.Set[Mode] {
	return sets.New(modes...)
}

// Connector is the capability surface shared by every connector.
type Connector interface {
	// ID returns the connector type.
	ID() string
	SupportedApi() v1alpha1.ApiType
	SupportedModes() sets.Set[Mode]

	Start(ctx context.Context) error
	// PreStop stops accepting new work; in-flight work may still complete.
	PreStop(ctx context.Context) error
	Stop(ctx context.Context) error
}

// EndpointConnector handles the backend side of a request.
type EndpointConnector interface {
	Connector
	// Connect sends the request of ec to the backend and fills its response.
	Connect(ctx context.Context, ec *execution.Context) error
}

// EntrypointConnector handles the client facing side of a request.
type EntrypointConnector interface {
	Connector
	// Matches reports whether the connector can serve the request.
	Matches(ec *execution.Context) bool
	HandleRequest(ctx context.Context, ec *execution.Context) error
	HandleResponse(ctx context.Context, ec *execution.Context) error
}

// Compatible reports whether a connector satisfies an api type and a mode set.
// An empty api type or an empty mode set is not a requirement.
func Compatible(c Connector, apiType v1alpha1.ApiType, modes sets.Set[Mode]) bool {
	if apiType != "" && c.SupportedApi() != apiType {
		return false
	}
	if modes.Len() > 0 && !c.SupportedModes().HasAny(modes.UnsortedList()...) {
		return false
	}
	return true
}

// EndpointFactory creates an endpoint connector from its configuration and the
// shared configuration applying to it.
type EndpointFactory func(ctx context.Context, configuration, sharedConfiguration json.RawMessage) (EndpointConnector, error)

// EntrypointFactory creates an entrypoint connector from its configuration.
type EntrypointFactory func(ctx context.Context, configuration json.RawMessage) (EntrypointConnector, error)

// EndpointFactories looks up endpoint connector factories by type.
type EndpointFactories interface {
	EndpointFactory(connectorType string) (EndpointFactory, bool)
}

// EntrypointFactories looks up entrypoint connector factories by type.
type EntrypointFactories interface {
	EntrypointFactory(connectorType string) (EntrypointFactory, bool)
}
