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

// Package mock provides an endpoint connector answering with static content,
// for proxy and message apis.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
)

const (
	MockConnectorType = "mock"

	// MessagesReceivedHeader reports how many request messages a publishing
	// mock endpoint consumed.
	MessagesReceivedHeader = "X-Mock-Messages-Received"
)

type Config struct {
	// ApiType defaults to proxy.
	ApiType v1alpha1.ApiType `json:"apiType,omitempty"`
	// Modes default to REQUEST_RESPONSE for proxy apis and to PUBLISH and
	// SUBSCRIBE for message apis.
	Modes   []connector.Mode  `json:"modes,omitempty"`
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Content string            `json:"content,omitempty"`
	// Delay is waited before answering.
	Delay metav1.Duration `json:"delay,omitempty"`
	// MessageCount is the number of messages produced for subscribers.
	MessageCount int `json:"messageCount,omitempty"`
}

type Mock struct {
	connector.Base
	config Config
}

var _ connector.EndpointConnector = &Mock{}

// MockFactory defines the factory function for Mock. The configuration of an
// endpoint is layered over the shared configuration of its group.
func MockFactory(_ context.Context, configuration, sharedConfiguration json.RawMessage) (connector.EndpointConnector, error) {
	config := Config{}
	for _, raw := range []json.RawMessage{sharedConfiguration, configuration} {
		if len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, &config); err != nil {
			return nil, fmt.Errorf("failed to parse the configuration of the '%s' connector: %w", MockConnectorType, err)
		}
	}
	return New(config)
}

func New(config Config) (*Mock, error) {
	if config.ApiType == "" {
		config.ApiType = v1alpha1.ApiTypeProxy
	}
	if config.Status == 0 {
		config.Status = http.StatusOK
	}
	if config.Status < 100 || config.Status > 599 {
		return nil, fmt.Errorf("invalid status %d", config.Status)
	}
	if len(config.Modes) == 0 {
		switch config.ApiType {
		case v1alpha1.ApiTypeProxy:
			config.Modes = []connector.Mode{connector.ModeRequestResponse}
		case v1alpha1.ApiTypeMessage:
			config.Modes = []connector.Mode{connector.ModePublish, connector.ModeSubscribe}
		default:
			return nil, fmt.Errorf("unsupported api type %q", config.ApiType)
		}
	}
	return &Mock{
		Base:   connector.NewBase(MockConnectorType, config.ApiType, config.Modes...),
		config: config,
	}, nil
}

func (m *Mock) Connect(ctx context.Context, ec *execution.Context) error {
	if m.config.Delay.Duration > 0 {
		timer := time.NewTimer(m.config.Delay.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	resp := ec.Response()
	resp.Status = m.config.Status
	for name, value := range m.config.Headers {
		resp.Headers.Set(name, value)
	}
	if m.SupportedApi() != v1alpha1.ApiTypeMessage {
		resp.Body = []byte(m.config.Content)
		return nil
	}

	if m.SupportedModes().Has(connector.ModePublish) {
		resp.Headers.Set(MessagesReceivedHeader, strconv.Itoa(len(ec.Request().Messages)))
	}
	if m.SupportedModes().Has(connector.ModeSubscribe) {
		for i := 0; i < m.config.MessageCount; i++ {
			resp.Messages = append(resp.Messages, execution.Message{
				ID:      uuid.NewString(),
				Headers: map[string]string{"X-Mock-Sequence": strconv.Itoa(i)},
				Content: []byte(m.config.Content),
			})
		}
	}
	return nil
}
