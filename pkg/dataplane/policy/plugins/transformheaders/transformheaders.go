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

// Package transformheaders sets and removes headers of requests, responses
// and messages.
package transformheaders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/policy"
)

const TransformHeadersPolicyType = "transform-headers"

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Config struct {
	SetHeaders    []Header `json:"setHeaders,omitempty"`
	RemoveHeaders []string `json:"removeHeaders,omitempty"`
}

// TransformHeaders applies to the request headers in the REQUEST phase, to the
// response headers in the RESPONSE phase and to message headers in the
// message phases.
type TransformHeaders struct {
	config Config
}

var (
	_ policy.RequestPolicy         = &TransformHeaders{}
	_ policy.ResponsePolicy        = &TransformHeaders{}
	_ policy.MessageRequestPolicy  = &TransformHeaders{}
	_ policy.MessageResponsePolicy = &TransformHeaders{}
)

// TransformHeadersFactory defines the factory function for TransformHeaders.
func TransformHeadersFactory(_ context.Context, configuration json.RawMessage) (policy.Policy, error) {
	config := Config{}
	if len(configuration) > 0 {
		if err := json.Unmarshal(configuration, &config); err != nil {
			return nil, fmt.Errorf("failed to parse the configuration of the '%s' policy: %w", TransformHeadersPolicyType, err)
		}
	}
	for _, h := range config.SetHeaders {
		if h.Name == "" {
			return nil, fmt.Errorf("header name is required")
		}
	}
	return &TransformHeaders{config: config}, nil
}

func (t *TransformHeaders) ID() string {
	return TransformHeadersPolicyType
}

func (t *TransformHeaders) OnRequest(_ context.Context, ec *execution.Context) execution.Result {
	t.apply(ec.Request().Headers)
	return execution.Continue()
}

func (t *TransformHeaders) OnResponse(_ context.Context, ec *execution.Context) execution.Result {
	t.apply(ec.Response().Headers)
	return execution.Continue()
}

func (t *TransformHeaders) OnMessageRequest(_ context.Context, ec *execution.Context) execution.Result {
	t.applyMessages(ec.Request().Messages)
	return execution.Continue()
}

func (t *TransformHeaders) OnMessageResponse(_ context.Context, ec *execution.Context) execution.Result {
	t.applyMessages(ec.Response().Messages)
	return execution.Continue()
}

func (t *TransformHeaders) apply(headers http.Header) {
	for _, name := range t.config.RemoveHeaders {
		headers.Del(name)
	}
	for _, h := range t.config.SetHeaders {
		headers.Set(h.Name, h.Value)
	}
}

func (t *TransformHeaders) applyMessages(messages []execution.Message) {
	for i := range messages {
		if messages[i].Headers == nil {
			messages[i].Headers = make(map[string]string)
		}
		for _, name := range t.config.RemoveHeaders {
			delete(messages[i].Headers, name)
		}
		for _, h := range t.config.SetHeaders {
			messages[i].Headers[h.Name] = h.Value
		}
	}
}
