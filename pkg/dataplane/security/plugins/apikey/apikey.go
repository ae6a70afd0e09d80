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

// Package apikey authenticates requests with a key sent in a header.
package apikey

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/security"
)

const (
	ApiKeySecurityType = "api-key"

	DefaultHeader = "X-Gateway-Api-Key"
)

type Key struct {
	Key         string `json:"key"`
	Application string `json:"application,omitempty"`
}

type Config struct {
	// Header carrying the key, DefaultHeader when empty.
	Header string `json:"header,omitempty"`
	Keys   []Key  `json:"keys"`
	// PropagateApiKey keeps the header on the request sent to the backend.
	PropagateApiKey bool `json:"propagateApiKey,omitempty"`
}

type ApiKey struct {
	config Config
}

func ApiKeyFactory(_ context.Context, plan *v1alpha1.Plan) (security.Policy, error) {
	config := Config{}
	if len(plan.Security.Configuration) > 0 {
		if err := json.Unmarshal(plan.Security.Configuration, &config); err != nil {
			return nil, fmt.Errorf("failed to parse the configuration of the '%s' security: %w", ApiKeySecurityType, err)
		}
	}
	if config.Header == "" {
		config.Header = DefaultHeader
	}
	return &ApiKey{config: config}, nil
}

func (a *ApiKey) ID() string { return ApiKeySecurityType }

func (a *ApiKey) Order() int { return 500 }

func (a *ApiKey) Supports(_ context.Context, ec *execution.Context) bool {
	return ec.Request().Headers.Get(a.config.Header) != ""
}

func (a *ApiKey) Authenticate(_ context.Context, ec *execution.Context) execution.Result {
	presented := ec.Request().Headers.Get(a.config.Header)
	if !a.config.PropagateApiKey {
		ec.Request().Headers.Del(a.config.Header)
	}
	for _, k := range a.config.Keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(presented)) == 1 {
			if k.Application != "" {
				ec.SetAttribute(execution.AttrApplication, k.Application)
			}
			return execution.Continue()
		}
	}
	return execution.InterruptWith(execution.NewFailure(http.StatusUnauthorized, execution.KeyApiKeyInvalid,
		"API Key is not valid or is expired / revoked."))
}
