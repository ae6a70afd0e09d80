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

// Package keyless accepts every request.
package keyless

import (
	"context"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/security"
)

const KeylessSecurityType = "key-less"

// Keyless is tried after every other plan security.
type Keyless struct{}

func KeylessFactory(context.Context, *v1alpha1.Plan) (security.Policy, error) {
	return Keyless{}, nil
}

func (Keyless) ID() string { return KeylessSecurityType }

func (Keyless) Order() int { return 1000 }

func (Keyless) Supports(context.Context, *execution.Context) bool { return true }

func (Keyless) Authenticate(context.Context, *execution.Context) execution.Result {
	return execution.Continue()
}
