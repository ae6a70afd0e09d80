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

package v1alpha1

// GatewayDefinition is the root document of a definitions file: the platform
// level flows shared by every api, and the apis to deploy.
type GatewayDefinition struct {
	// +optional
	Platform *Platform `json:"platform,omitempty"`

	// +optional
	Apis []Api `json:"apis,omitempty"`
}

// Platform holds the flows executed for every api of the gateway.
type Platform struct {
	// +optional
	Flows []Flow `json:"flows,omitempty"`
}

// PlatformFlows returns the platform flows, if any.
func (g *GatewayDefinition) PlatformFlows() []Flow {
	if g == nil || g.Platform == nil {
		return nil
	}
	return g.Platform.Flows
}

// EffectiveType returns the api type, defaulting to proxy.
func (a *Api) EffectiveType() ApiType {
	if a.Type == "" {
		return ApiTypeProxy
	}
	return a.Type
}

// ConnectorType returns the endpoint type, defaulting to the type of its group.
func (e *Endpoint) ConnectorType(group *EndpointGroup) string {
	if e.Type != "" {
		return e.Type
	}
	return group.Type
}
