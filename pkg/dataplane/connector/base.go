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

package connector

import (
	"context"

	"k8s.io/apimachinery/pkg/util/sets"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
)

// Base implements the descriptive part of Connector and no-op lifecycle
// methods. It can be embedded in connectors to reduce boilerplate.
type Base struct {
	connectorType string
	apiType       v1alpha1.ApiType
	modes         sets.Set[Mode]
}

// NewBase returns a Base describing a connector type and its capabilities.
func NewBase(connectorType string, apiType v1alpha1.ApiType, modes ...Mode) Base {
	return Base{
		connectorType: connectorType,
		apiType:       apiType,
		modes:         sets.New(modes...),
	}
}

func (b *Base) ID() string {
	return b.connectorType
}

func (b *Base) SupportedApi() v1alpha1.ApiType {
	return b.apiType
}

func (b *Base) SupportedModes() sets.Set[Mode] {
	return b.modes
}

func (b *Base) Start(context.Context) error {
	return nil
}

func (b *Base) PreStop(context.Context) error {
	return nil
}

func (b *Base) Stop(context.Context) error {
	return nil
}
