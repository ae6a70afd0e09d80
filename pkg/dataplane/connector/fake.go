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
	"encoding/json"
	"sync"
	"sync/atomic"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
)

// FakeEndpointConnector is an endpoint connector recording its lifecycle calls, for testing.
type FakeEndpointConnector struct {
	Base
	Configuration       json.RawMessage
	SharedConfiguration json.RawMessage

	StartErr   error
	PreStopErr error
	StopErr    error
	ConnectErr error
	// OnConnect, when set, is called by Connect before ConnectErr is returned.
	OnConnect func(ctx context.Context, ec *execution.Context)

	mu    sync.Mutex
	calls []string

	Connects atomic.Int32
}

// NewFakeEndpointConnector returns a fake endpoint connector with the given capabilities.
func NewFakeEndpointConnector(apiType v1alpha1.ApiType, modes ...Mode) *FakeEndpointConnector {
	return &FakeEndpointConnector{Base: NewBase("fake", apiType, modes...)}
}

func (f *FakeEndpointConnector) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

// Calls returns the lifecycle calls received so far, in order.
func (f *FakeEndpointConnector) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeEndpointConnector) Start(context.Context) error {
	f.record("start")
	return f.StartErr
}

func (f *FakeEndpointConnector) PreStop(context.Context) error {
	f.record("preStop")
	return f.PreStopErr
}

func (f *FakeEndpointConnector) Stop(context.Context) error {
	f.record("stop")
	return f.StopErr
}

func (f *FakeEndpointConnector) Connect(ctx context.Context, ec *execution.Context) error {
	f.Connects.Add(1)
	if f.OnConnect != nil {
		f.OnConnect(ctx, ec)
	}
	return f.ConnectErr
}

// FakeEndpointFactory builds FakeEndpointConnector instances and counts its invocations.
type FakeEndpointFactory struct {
	ApiType v1alpha1.ApiType
	Modes   []Mode
	// Err is returned instead of a connector when set.
	Err error
	// Customize, when set, is applied to every created connector.
	Customize func(c *FakeEndpointConnector)

	mu      sync.Mutex
	created []*FakeEndpointConnector
}

// Factory returns the EndpointFactory backed by f.
func (f *FakeEndpointFactory) Factory() EndpointFactory {
	return func(_ context.Context, configuration, sharedConfiguration json.RawMessage) (EndpointConnector, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.Err != nil {
			f.created = append(f.created, nil)
			return nil, f.Err
		}
		c := NewFakeEndpointConnector(f.ApiType, f.Modes...)
		c.Configuration = configuration
		c.SharedConfiguration = sharedConfiguration
		if f.Customize != nil {
			f.Customize(c)
		}
		f.created = append(f.created, c)
		return c, nil
	}
}

// Invocations returns how many times the factory was called.
func (f *FakeEndpointFactory) Invocations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// Created returns the connectors created so far, nil entries for failed invocations.
func (f *FakeEndpointFactory) Created() []*FakeEndpointConnector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeEndpointConnector(nil), f.created...)
}

// FakeEntrypointConnector is an entrypoint connector for testing.
type FakeEntrypointConnector struct {
	Base
	// Match decides Matches; nil matches every request.
	Match             func(ec *execution.Context) bool
	HandleRequestErr  error
	HandleResponseErr error

	RequestHandled  atomic.Int32
	ResponseHandled atomic.Int32
}

// NewFakeEntrypointConnector returns a fake entrypoint connector with the given capabilities.
func NewFakeEntrypointConnector(apiType v1alpha1.ApiType, modes ...Mode) *FakeEntrypointConnector {
	return &FakeEntrypointConnector{Base: NewBase("fake", apiType, modes...)}
}

func (f *FakeEntrypointConnector) Matches(ec *execution.Context) bool {
	return f.Match == nil || f.Match(ec)
}

func (f *FakeEntrypointConnector) HandleRequest(context.Context, *execution.Context) error {
	f.RequestHandled.Add(1)
	return f.HandleRequestErr
}

func (f *FakeEntrypointConnector) HandleResponse(context.Context, *execution.Context) error {
	f.ResponseHandled.Add(1)
	return f.HandleResponseErr
}
