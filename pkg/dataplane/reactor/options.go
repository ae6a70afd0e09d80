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

package reactor

import (
	"time"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/node"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/policy"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/resource"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/security"
)

const (
	DefaultPendingRequestsTimeout      = 10 * time.Second
	DefaultPendingRequestsPollInterval = 100 * time.Millisecond
	DefaultRequestTimeoutGraceDelay    = 30 * time.Millisecond
)

// Options tune the behavior of reactors.
type Options struct {
	// PendingRequestsTimeout bounds the wait for in-flight requests on stop.
	PendingRequestsTimeout time.Duration
	// PendingRequestsPollInterval is the pace at which the in-flight requests
	// count is checked while stopping.
	PendingRequestsPollInterval time.Duration
	// RequestTimeout bounds the handling of a request. Zero or negative disables it.
	RequestTimeout time.Duration
	// RequestTimeoutGraceDelay is the minimum time given to a request, and the
	// budget of the response flows of a request that timed out.
	RequestTimeoutGraceDelay time.Duration
	// Tracing wraps requests and chains in spans.
	Tracing bool
	// Tenant restricts the endpoints deployed to the ones of this gateway tenant.
	Tenant string
	// DirectEndpointResolution resolves endpoint connectors per request from
	// the api definition instead of selecting among managed endpoints.
	DirectEndpointResolution bool
}

func DefaultOptions() Options {
	return Options{
		PendingRequestsTimeout:      DefaultPendingRequestsTimeout,
		PendingRequestsPollInterval: DefaultPendingRequestsPollInterval,
		RequestTimeoutGraceDelay:    DefaultRequestTimeoutGraceDelay,
	}
}

// Connectors looks up endpoint and entrypoint connector factories.
type Connectors interface {
	connector.EndpointFactories
	connector.EntrypointFactories
}

// Dependencies are the gateway wide collaborators shared by every reactor.
type Dependencies struct {
	Node          node.Node
	Connectors    Connectors
	Policies      policy.Factories
	Security      security.Factories
	Resources     resource.Factories
	PlatformFlows []v1alpha1.Flow
}
