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
	"encoding/json"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

// ConnectorResolver resolves the endpoint connector of a request directly from
// the api definition, without managed state.
//
// Resolution is eager: a connector is built for every endpoint with a
// registered factory before the first compatible one, in declaration order,
// is returned. Connectors returned by Resolve are not started.
type ConnectorResolver struct {
	api       *v1alpha1.Api
	factories connector.EndpointFactories
}

func NewConnectorResolver(api *v1alpha1.Api, factories connector.EndpointFactories) *ConnectorResolver {
	return &ConnectorResolver{api: api, factories: factories}
}

// Resolve returns the first connector whose api type equals the one of the
// request entrypoint and whose modes intersect the entrypoint modes, or nil.
func (r *ConnectorResolver) Resolve(ctx context.Context, ec *execution.Context) connector.EndpointConnector {
	logger := log.FromContext(ctx).WithValues("api", r.api.ID)
	entrypoint, ok := ec.InternalAttribute(execution.InternalAttrEntrypointConnector).(connector.EntrypointConnector)
	if !ok {
		logger.V(logutil.DEBUG).Info("No entrypoint connector resolved for the request, no endpoint can be resolved")
		return nil
	}
	apiType := entrypoint.SupportedApi()
	modes := entrypoint.SupportedModes()

	var created []connector.EndpointConnector
	for i := range r.api.EndpointGroups {
		group := &r.api.EndpointGroups[i]
		for j := range group.Endpoints {
			ep := &group.Endpoints[j]
			connectorType := ep.ConnectorType(group)
			factory, ok := r.factories.EndpointFactory(connectorType)
			if !ok {
				logger.V(logutil.DEBUG).Info("No endpoint connector factory, skipping endpoint", "endpoint", ep.Name, "type", connectorType)
				continue
			}
			configuration, shared := configurationFor(group, ep)
			c, err := create(ctx, factory, configuration, shared)
			if err != nil {
				logger.Error(err, "Unable to create endpoint connector, skipping endpoint", "endpoint", ep.Name, "type", connectorType)
				continue
			}
			if c != nil {
				created = append(created, c)
			}
		}
	}

	for _, c := range created {
		if c.SupportedApi() == apiType && c.SupportedModes().HasAny(modes.UnsortedList()...) {
			return c
		}
	}
	return nil
}

// Select implements Selector.
func (r *ConnectorResolver) Select(ctx context.Context, ec *execution.Context) connector.EndpointConnector {
	return r.Resolve(ctx, ec)
}

func create(ctx context.Context, factory connector.EndpointFactory, configuration, shared json.RawMessage) (c connector.EndpointConnector, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("endpoint connector factory panicked: %v", r)
		}
	}()
	return factory(ctx, configuration, shared)
}
