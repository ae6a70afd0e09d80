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

package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	errutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/error"
)

// LoadDefinition loads the gateway definition either from supplied text or from a file.
func LoadDefinition(text []byte, fileName string, log logr.Logger) (*v1alpha1.GatewayDefinition, error) {
	var err error
	if len(text) == 0 {
		text, err = os.ReadFile(fileName)
		if err != nil {
			log.Error(err, "failed to load definitions file", "file", fileName)
			return nil, err
		}
	}

	definition := &v1alpha1.GatewayDefinition{}
	if err := yaml.UnmarshalStrict(text, definition); err != nil {
		log.Error(err, "the definitions are invalid")
		return nil, errutil.Error{Code: errutil.BadConfiguration, Msg: err.Error()}
	}

	if err := ValidateDefinition(definition); err != nil {
		log.Error(err, "the definitions are invalid")
		return nil, err
	}
	return definition, nil
}

// ValidateDefinition checks the load-time invariants the data plane relies on.
func ValidateDefinition(definition *v1alpha1.GatewayDefinition) error {
	ids := make(map[string]bool)
	for i := range definition.Apis {
		api := &definition.Apis[i]
		if api.ID == "" {
			return badConfiguration("api at index %d has no id", i)
		}
		if ids[api.ID] {
			return badConfiguration("the id %s has been specified for more than one api", api.ID)
		}
		ids[api.ID] = true
		if err := ValidateApi(api); err != nil {
			return err
		}
	}
	return nil
}

// ValidateApi checks a single api definition.
func ValidateApi(api *v1alpha1.Api) error {
	switch api.Type {
	case "", v1alpha1.ApiTypeProxy, v1alpha1.ApiTypeMessage:
	default:
		return badConfiguration("api %s has unknown type %q", api.ID, api.Type)
	}

	if len(api.Listeners) == 0 {
		return badConfiguration("api %s needs at least one listener", api.ID)
	}
	for _, listener := range api.Listeners {
		if len(listener.Entrypoints) == 0 {
			return badConfiguration("api %s has a %s listener without entrypoints", api.ID, listener.Type)
		}
		switch listener.Type {
		case v1alpha1.ListenerTypeHTTP:
			if len(listener.Paths) == 0 {
				return badConfiguration("api %s has an http listener without paths", api.ID)
			}
			for _, path := range listener.Paths {
				if !strings.HasPrefix(path.Path, "/") {
					return badConfiguration("api %s has path %q which does not start with /", api.ID, path.Path)
				}
			}
		case v1alpha1.ListenerTypeSubscription:
		default:
			return badConfiguration("api %s has unknown listener type %q", api.ID, listener.Type)
		}
	}

	groups := make(map[string]bool)
	endpoints := make(map[string]bool)
	for _, group := range api.EndpointGroups {
		if group.Name == "" {
			return badConfiguration("api %s has an endpoint group without name", api.ID)
		}
		if groups[group.Name] {
			return badConfiguration("the name %s has been specified for more than one endpoint group of api %s", group.Name, api.ID)
		}
		groups[group.Name] = true
		switch group.LoadBalancer {
		case "", v1alpha1.LoadBalancerRoundRobin:
		default:
			return badConfiguration("endpoint group %s has unsupported load balancer %q", group.Name, group.LoadBalancer)
		}

		for _, endpoint := range group.Endpoints {
			if endpoint.Name == "" {
				return badConfiguration("endpoint group %s has an endpoint without name", group.Name)
			}
			if endpoints[endpoint.Name] {
				return badConfiguration("the name %s has been specified for more than one endpoint of api %s", endpoint.Name, api.ID)
			}
			endpoints[endpoint.Name] = true
			if endpoint.ConnectorType(&group) == "" {
				return badConfiguration("endpoint %s has no type and its group %s has none either", endpoint.Name, group.Name)
			}
			if endpoint.Weight != 0 {
				return badConfiguration("endpoint %s sets weight, which the round robin load balancer does not support", endpoint.Name)
			}
			if endpoint.Backup {
				return badConfiguration("endpoint %s sets backup, use secondary instead", endpoint.Name)
			}
		}
	}

	plans := make(map[string]bool)
	for _, plan := range api.Plans {
		if plan.ID == "" {
			return badConfiguration("api %s has a plan without id", api.ID)
		}
		if plans[plan.ID] {
			return badConfiguration("the id %s has been specified for more than one plan of api %s", plan.ID, api.ID)
		}
		plans[plan.ID] = true
	}
	return nil
}

func badConfiguration(format string, args ...any) error {
	return errutil.Error{Code: errutil.BadConfiguration, Msg: fmt.Sprintf(format, args...)}
}
