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

package collectors

import (
	"context"
	"strings"
	"testing"

	"k8s.io/component-base/metrics/testutil"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/endpoint"
)

type staticSource []*endpoint.Manager

func (s staticSource) EndpointManagers() []*endpoint.Manager {
	return s
}

func TestNoEndpointMetricsCollected(t *testing.T) {
	collector := &endpointStatusCollector{
		source: staticSource{},
	}

	if err := testutil.CollectAndCompare(collector, strings.NewReader(""), ""); err != nil {
		t.Fatal(err)
	}
}

func TestEndpointMetricsCollected(t *testing.T) {
	registry := connector.NewRegistry()
	factory := &connector.FakeEndpointFactory{ApiType: v1alpha1.ApiTypeProxy, Modes: []connector.Mode{connector.ModeRequestResponse}}
	registry.RegisterEndpoint("fake", factory.Factory())

	api := &v1alpha1.Api{
		ID: "echo",
		EndpointGroups: []v1alpha1.EndpointGroup{{
			Name: "default-group",
			Type: "fake",
			Endpoints: []v1alpha1.Endpoint{
				{Name: "primary"},
				{Name: "standby", Secondary: true},
			},
		}},
	}
	manager := endpoint.NewManager(api, registry)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	manager.Disable(manager.Endpoint("standby"))

	collector := &endpointStatusCollector{
		source: staticSource{manager},
	}

	err := testutil.CollectAndCompare(collector, strings.NewReader(`
		# HELP api_endpoint_up [ALPHA] Status of the endpoints managed by each deployed api. Value 1 indicates the endpoint is UP, 0 indicates DOWN.
		# TYPE api_endpoint_up gauge
		api_endpoint_up{api="echo",endpoint="primary",group="default-group"} 1
		api_endpoint_up{api="echo",endpoint="standby",group="default-group"} 0
`), "api_endpoint_up")
	if err != nil {
		t.Fatal(err)
	}
}
