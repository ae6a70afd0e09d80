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
	"encoding/json"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
)

// Criteria narrows endpoint selection. Every field is optional.
type Criteria struct {
	// Name of an endpoint or of an endpoint group.
	Name    string
	ApiType v1alpha1.ApiType
	Modes   sets.Set[connector.Mode]
}

func (c Criteria) accepts(me *ManagedEndpoint) bool {
	return connector.Compatible(me.Connector(), c.ApiType, c.Modes)
}

// CriteriaFor derives selection criteria from a request: the capabilities of
// its entrypoint connector and the endpoint requested through the
// execution.AttrRequestEndpoint attribute. The attribute accepts a bare name
// or the "name:" form exposed by Manager.TemplateVariables.
func CriteriaFor(ec *execution.Context) Criteria {
	var criteria Criteria
	if entrypoint, ok := ec.InternalAttribute(execution.InternalAttrEntrypointConnector).(connector.EntrypointConnector); ok {
		criteria.ApiType = entrypoint.SupportedApi()
		criteria.Modes = entrypoint.SupportedModes()
	}
	target := ec.StringAttribute(execution.AttrRequestEndpoint)
	if target != "" && !strings.Contains(target, "://") {
		name, _, _ := strings.Cut(target, ":")
		criteria.Name = name
	}
	return criteria
}

// configurationFor returns the configuration and the shared configuration an
// endpoint connector is built with. Inheriting endpoints use the shared
// configuration of their group in place of their own.
func configurationFor(group *v1alpha1.EndpointGroup, ep *v1alpha1.Endpoint) (json.RawMessage, json.RawMessage) {
	if ep.InheritConfiguration {
		return group.SharedConfiguration, group.SharedConfiguration
	}
	return ep.Configuration, ep.SharedConfigurationOverride
}
