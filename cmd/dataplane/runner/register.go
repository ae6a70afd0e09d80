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

package runner

import (
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connectors/httpget"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connectors/httpproxy"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connectors/mock"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/policy"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/policy/plugins/ratelimit"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/policy/plugins/transformheaders"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/resource"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/security"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/security/plugins/apikey"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/security/plugins/keyless"
)

// registerInTreePlugins registers the factory functions of all in-tree
// plugins. Types already registered, out-of-tree overrides included, are kept.
func (r *Runner) registerInTreePlugins() {
	endpoints := map[string]connector.EndpointFactory{
		httpproxy.HttpProxyConnectorType: httpproxy.EndpointFactory,
		mock.MockConnectorType:           mock.MockFactory,
	}
	for name, factory := range endpoints {
		if _, ok := r.connectors.EndpointFactory(name); !ok {
			r.connectors.RegisterEndpoint(name, factory)
		}
	}

	entrypoints := map[string]connector.EntrypointFactory{
		httpproxy.HttpProxyConnectorType: httpproxy.EntrypointFactory,
		httpget.HttpGetConnectorType:     httpget.HttpGetFactory,
	}
	for name, factory := range entrypoints {
		if _, ok := r.connectors.EntrypointFactory(name); !ok {
			r.connectors.RegisterEntrypoint(name, factory)
		}
	}

	policies := map[string]policy.Factory{
		ratelimit.RateLimitPolicyType:               ratelimit.RateLimitFactory,
		transformheaders.TransformHeadersPolicyType: transformheaders.TransformHeadersFactory,
	}
	for name, factory := range policies {
		if _, ok := r.policies.Factory(name); !ok {
			r.policies.Register(name, factory)
		}
	}

	securities := map[string]security.Factory{
		apikey.ApiKeySecurityType:   apikey.ApiKeyFactory,
		keyless.KeylessSecurityType: keyless.KeylessFactory,
	}
	for name, factory := range securities {
		if _, ok := r.security.Factory(name); !ok {
			r.security.Register(name, factory)
		}
	}

	if _, ok := r.resources.Factory(resource.NoopResourceType); !ok {
		r.resources.Register(resource.NoopResourceType, resource.NoopFactory)
	}
}
