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

package reactor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/node"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/policy"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/processor"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/resource"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/security"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/security/plugins/keyless"
	errutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/error"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

type journalEntrypoint struct {
	connector.Base
	journal *calls
}

func (e *journalEntrypoint) Matches(*execution.Context) bool { return true }

func (e *journalEntrypoint) HandleRequest(context.Context, *execution.Context) error {
	e.journal.add("entrypoint-request")
	return nil
}

func (e *journalEntrypoint) HandleResponse(context.Context, *execution.Context) error {
	e.journal.add("entrypoint-response")
	return nil
}

type journalConfig struct {
	Name            string         `json:"name"`
	Interrupt       map[string]int `json:"interrupt,omitempty"`
	Panic           string         `json:"panic,omitempty"`
	Block           string         `json:"block,omitempty"`
	SkipInvoker     bool           `json:"skipInvoker,omitempty"`
	OverrideInvoker bool           `json:"overrideInvoker,omitempty"`
	// Decorate makes the response phase rewrite the content type and echo
	// the status it observed in X-Observed-Status.
	Decorate bool `json:"decorate,omitempty"`
}

// journalPolicy records "<name> <phase>" and misbehaves as configured.
type journalPolicy struct {
	config  journalConfig
	journal *calls
}

func (p *journalPolicy) ID() string { return "journal" }

func (p *journalPolicy) run(ctx context.Context, ec *execution.Context, phase execution.Phase) execution.Result {
	p.journal.add(p.config.Name + " " + string(phase))
	if p.config.Panic == string(phase) {
		panic("policy bug")
	}
	if p.config.Block == string(phase) {
		<-ctx.Done()
	}
	if p.config.Decorate && phase == execution.PhaseResponse {
		ec.Response().Headers.Set("X-Observed-Status", strconv.Itoa(ec.Response().Status))
		ec.Response().Headers.Set("Content-Type", "application/problem+json")
	}
	if p.config.SkipInvoker {
		ec.SetInternalAttribute(execution.InternalAttrInvokerSkip, true)
	}
	if p.config.OverrideInvoker {
		ec.SetInternalAttribute(execution.InternalAttrInvoker, execution.InvokerFunc{
			Name: "override",
			Fn: func(context.Context, *execution.Context) execution.Result {
				p.journal.add("override")
				return execution.Continue()
			},
		})
	}
	if status, ok := p.config.Interrupt[string(phase)]; ok {
		if status == 0 {
			return execution.Interrupt()
		}
		return execution.InterruptWith(execution.NewFailure(status, "POLICY_FAILURE", ""))
	}
	return execution.Continue()
}

func (p *journalPolicy) OnRequest(ctx context.Context, ec *execution.Context) execution.Result {
	return p.run(ctx, ec, execution.PhaseRequest)
}

func (p *journalPolicy) OnResponse(ctx context.Context, ec *execution.Context) execution.Result {
	return p.run(ctx, ec, execution.PhaseResponse)
}

func (p *journalPolicy) OnMessageRequest(ctx context.Context, ec *execution.Context) execution.Result {
	return p.run(ctx, ec, execution.PhaseMessageRequest)
}

func (p *journalPolicy) OnMessageResponse(ctx context.Context, ec *execution.Context) execution.Result {
	return p.run(ctx, ec, execution.PhaseMessageResponse)
}

// journalChain records name before running the wrapped processor chain.
type journalChain struct {
	name    string
	inner   chain
	journal *calls
}

func (c journalChain) Execute(ctx context.Context, ec *execution.Context) execution.Result {
	c.journal.add(c.name)
	return c.inner.Execute(ctx, ec)
}

type pipeline struct {
	journal   *calls
	endpoints map[v1alpha1.ApiType]*connector.FakeEndpointFactory
	deps      Dependencies
}

func newPipeline(platform journalConfig) *pipeline {
	journal := &calls{}
	p := &pipeline{journal: journal, endpoints: map[v1alpha1.ApiType]*connector.FakeEndpointFactory{}}

	connectors := connector.NewRegistry()
	for apiType, mode := range map[v1alpha1.ApiType]connector.Mode{
		v1alpha1.ApiTypeProxy:   connector.ModeRequestResponse,
		v1alpha1.ApiTypeMessage: connector.ModeSubscribe,
	} {
		apiType, mode := apiType, mode
		connectors.RegisterEntrypoint("journal-"+string(apiType), func(context.Context, json.RawMessage) (connector.EntrypointConnector, error) {
			return &journalEntrypoint{Base: connector.NewBase("journal", apiType, mode), journal: journal}, nil
		})
		factory := &connector.FakeEndpointFactory{
			ApiType: apiType,
			Modes:   []connector.Mode{mode},
			Customize: func(c *connector.FakeEndpointConnector) {
				c.OnConnect = func(_ context.Context, ec *execution.Context) {
					journal.add("invoke")
					ec.Response().Status = http.StatusOK
					ec.Response().Body = []byte("pong")
				}
			},
		}
		connectors.RegisterEndpoint("fake-"+string(apiType), factory.Factory())
		p.endpoints[apiType] = factory
	}

	policies := policy.NewRegistry()
	policies.Register("journal", func(_ context.Context, configuration json.RawMessage) (policy.Policy, error) {
		jp := &journalPolicy{journal: journal}
		if err := json.Unmarshal(configuration, &jp.config); err != nil {
			return nil, err
		}
		return jp, nil
	})

	securities := security.NewRegistry()
	securities.Register(keyless.KeylessSecurityType, keyless.KeylessFactory)

	p.deps = Dependencies{
		Node:          runningNode(),
		Connectors:    connectors,
		Policies:      policies,
		Security:      securities,
		Resources:     resource.NewRegistry(),
		PlatformFlows: journalFlows(platform),
	}
	return p
}

// journalErrors records the runs of the error processors of r.
func (p *pipeline) journalErrors(r *Reactor) {
	r.errors = journalChain{name: "error-processors", inner: r.errors, journal: p.journal}
}

func journalFlows(config journalConfig) []v1alpha1.Flow {
	raw, _ := json.Marshal(config)
	s := []v1alpha1.Step{{Policy: "journal", Configuration: raw}}
	return []v1alpha1.Flow{{Request: s, Response: s, Publish: s, Subscribe: s}}
}

func testApi(apiType v1alpha1.ApiType, plan, api journalConfig) *v1alpha1.Api {
	return &v1alpha1.Api{
		ID:             "api-1",
		Name:           "Test api",
		Type:           apiType,
		OrganizationID: "org",
		EnvironmentID:  "env",
		Listeners: []v1alpha1.Listener{{
			Type:        v1alpha1.ListenerTypeHTTP,
			Paths:       []v1alpha1.Path{{Path: "/test"}},
			Entrypoints: []v1alpha1.Entrypoint{{Type: "journal-" + string(apiType)}},
		}},
		EndpointGroups: []v1alpha1.EndpointGroup{{
			Name:      "default",
			Type:      "fake-" + string(apiType),
			Endpoints: []v1alpha1.Endpoint{{Name: "backend"}},
		}},
		Plans: []v1alpha1.Plan{{
			ID:       "open",
			Security: v1alpha1.PlanSecurity{Type: keyless.KeylessSecurityType},
			Flows:    journalFlows(plan),
		}},
		Flows: journalFlows(api),
	}
}

func startReactor(t *testing.T, api *v1alpha1.Api, deps Dependencies, opts Options) (context.Context, *Reactor) {
	t.Helper()
	ctx := logutil.NewTestLoggerIntoContext(context.Background())
	r := New(api, deps, opts)
	require.NoError(t, r.Start(ctx))
	t.Cleanup(func() { _ = r.Stop(ctx) })
	return ctx, r
}

func request() *execution.Context {
	return execution.NewContext(&execution.Request{Method: http.MethodGet, Path: "/test", ContextPath: "/test"})
}

func TestHandleProxyPipeline(t *testing.T) {
	p := newPipeline(journalConfig{Name: "platform"})
	ctx, r := startReactor(t, testApi(v1alpha1.ApiTypeProxy, journalConfig{Name: "plan"}, journalConfig{Name: "api"}), p.deps, DefaultOptions())

	ec := request()
	r.Handle(ctx, ec)

	want := []string{
		"platform REQUEST",
		"entrypoint-request",
		"plan REQUEST",
		"api REQUEST",
		"invoke",
		"plan RESPONSE",
		"api RESPONSE",
		"platform RESPONSE",
		"entrypoint-response",
	}
	if diff := cmp.Diff(want, p.journal.get()); diff != "" {
		t.Errorf("Unexpected pipeline diff (+got/-want): %s", diff)
	}

	resp := ec.Response()
	assert.True(t, resp.Ended())
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "pong", string(resp.Body))
	assert.Nil(t, ec.Failure())

	assert.Equal(t, "api-1", ec.StringAttribute(execution.AttrApi))
	assert.Equal(t, "org", ec.StringAttribute(execution.AttrOrganization))
	assert.Equal(t, "env", ec.StringAttribute(execution.AttrEnvironment))
	assert.Equal(t, "/test", ec.StringAttribute(execution.AttrContextPath))
	assert.Equal(t, "open", ec.StringAttribute(execution.AttrPlan))
	assert.NotEmpty(t, ec.StringAttribute(execution.AttrRequestID))
	assert.Equal(t, ec.Request().ID, resp.Headers.Get(processor.TransactionIDHeader))
	assert.EqualValues(t, 0, r.Pending())
}

func TestHandleMessagePipeline(t *testing.T) {
	p := newPipeline(journalConfig{Name: "platform"})
	ctx, r := startReactor(t, testApi(v1alpha1.ApiTypeMessage, journalConfig{Name: "plan"}, journalConfig{Name: "api"}), p.deps, DefaultOptions())

	ec := request()
	r.Handle(ctx, ec)

	want := []string{
		"platform REQUEST",
		"entrypoint-request",
		"platform MESSAGE_REQUEST",
		"plan REQUEST",
		"plan MESSAGE_REQUEST",
		"api REQUEST",
		"api MESSAGE_REQUEST",
		"invoke",
		"plan RESPONSE",
		"plan MESSAGE_RESPONSE",
		"api RESPONSE",
		"api MESSAGE_RESPONSE",
		"platform RESPONSE",
		"platform MESSAGE_RESPONSE",
		"entrypoint-response",
	}
	if diff := cmp.Diff(want, p.journal.get()); diff != "" {
		t.Errorf("Unexpected pipeline diff (+got/-want): %s", diff)
	}
	assert.Equal(t, http.StatusOK, ec.Response().Status)
}

func TestHandleInterruptions(t *testing.T) {
	tests := []struct {
		name        string
		platform    journalConfig
		plan        journalConfig
		api         journalConfig
		contextPath string
		noEndpoints bool
		connectErr  error
		wantJournal []string
		wantStatus  int
		wantKey     string
	}{
		{
			name:        "no entrypoint",
			contextPath: "/unknown",
			wantJournal: []string{"error-processors", "platform RESPONSE"},
			wantStatus:  http.StatusNotFound,
			wantKey:     execution.KeyNoEntrypoint,
		},
		{
			name:        "platform request failure",
			platform:    journalConfig{Interrupt: map[string]int{"REQUEST": http.StatusForbidden}},
			wantJournal: []string{"platform REQUEST", "error-processors", "platform RESPONSE", "entrypoint-response"},
			wantStatus:  http.StatusForbidden,
			wantKey:     "POLICY_FAILURE",
		},
		{
			name: "api request failure",
			api:  journalConfig{Interrupt: map[string]int{"REQUEST": http.StatusForbidden}},
			wantJournal: []string{
				"platform REQUEST", "entrypoint-request", "plan REQUEST", "api REQUEST",
				"error-processors", "platform RESPONSE", "entrypoint-response",
			},
			wantStatus: http.StatusForbidden,
			wantKey:    "POLICY_FAILURE",
		},
		{
			name: "policy panic",
			plan: journalConfig{Panic: "REQUEST"},
			wantJournal: []string{
				"platform REQUEST", "entrypoint-request", "plan REQUEST",
				"error-processors", "platform RESPONSE", "entrypoint-response",
			},
			wantStatus: http.StatusInternalServerError,
			wantKey:    execution.KeyInternalError,
		},
		{
			name:        "interruption without failure",
			api:         journalConfig{Interrupt: map[string]int{"REQUEST": 0}},
			wantJournal: []string{"platform REQUEST", "entrypoint-request", "plan REQUEST", "api REQUEST", "platform RESPONSE", "entrypoint-response"},
			wantStatus:  http.StatusOK,
		},
		{
			name:        "no endpoint",
			noEndpoints: true,
			wantJournal: []string{
				"platform REQUEST", "entrypoint-request", "plan REQUEST", "api REQUEST",
				"error-processors", "platform RESPONSE", "entrypoint-response",
			},
			wantStatus: http.StatusNotFound,
			wantKey:    execution.KeyNoEndpoint,
		},
		{
			name:       "endpoint error",
			connectErr: errors.New("connection refused"),
			wantJournal: []string{
				"platform REQUEST", "entrypoint-request", "plan REQUEST", "api REQUEST", "invoke",
				"error-processors", "platform RESPONSE", "entrypoint-response",
			},
			wantStatus: http.StatusInternalServerError,
			wantKey:    execution.KeyInternalError,
		},
		{
			name:       "endpoint unreachable",
			connectErr: errutil.Error{Code: errutil.BadGateway, Msg: "dial tcp: connection refused"},
			wantJournal: []string{
				"platform REQUEST", "entrypoint-request", "plan REQUEST", "api REQUEST", "invoke",
				"error-processors", "platform RESPONSE", "entrypoint-response",
			},
			wantStatus: http.StatusBadGateway,
			wantKey:    errutil.BadGateway,
		},
		{
			name: "api response failure",
			api:  journalConfig{Interrupt: map[string]int{"RESPONSE": http.StatusBadGateway}},
			wantJournal: []string{
				"platform REQUEST", "entrypoint-request", "plan REQUEST", "api REQUEST", "invoke",
				"plan RESPONSE", "api RESPONSE", "error-processors", "platform RESPONSE", "entrypoint-response",
			},
			wantStatus: http.StatusBadGateway,
			wantKey:    "POLICY_FAILURE",
		},
		{
			name:     "platform response failure",
			platform: journalConfig{Interrupt: map[string]int{"RESPONSE": http.StatusForbidden}},
			wantJournal: []string{
				"platform REQUEST", "entrypoint-request", "plan REQUEST", "api REQUEST", "invoke",
				"plan RESPONSE", "api RESPONSE", "platform RESPONSE", "error-processors", "entrypoint-response",
			},
			wantStatus: http.StatusForbidden,
			wantKey:    "POLICY_FAILURE",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.platform.Name, test.plan.Name, test.api.Name = "platform", "plan", "api"
			p := newPipeline(test.platform)
			api := testApi(v1alpha1.ApiTypeProxy, test.plan, test.api)
			if test.noEndpoints {
				api.EndpointGroups = nil
			}
			p.endpoints[v1alpha1.ApiTypeProxy].Customize = func(c *connector.FakeEndpointConnector) {
				c.OnConnect = func(context.Context, *execution.Context) { p.journal.add("invoke") }
				c.ConnectErr = test.connectErr
			}
			ctx, r := startReactor(t, api, p.deps, DefaultOptions())
			p.journalErrors(r)

			ec := request()
			if test.contextPath != "" {
				ec.Request().ContextPath = test.contextPath
			}
			r.Handle(ctx, ec)

			if diff := cmp.Diff(test.wantJournal, p.journal.get()); diff != "" {
				t.Errorf("Unexpected pipeline diff (+got/-want): %s", diff)
			}
			resp := ec.Response()
			assert.True(t, resp.Ended())
			assert.Equal(t, test.wantStatus, resp.Status)
			if test.wantKey == "" {
				assert.Nil(t, ec.Failure())
				return
			}
			require.NotNil(t, ec.Failure())
			assert.Equal(t, test.wantKey, ec.Failure().Key)
			assert.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
		})
	}
}

func TestHandlePlatformResponseDecoratesFailure(t *testing.T) {
	p := newPipeline(journalConfig{Name: "platform", Decorate: true})
	api := testApi(v1alpha1.ApiTypeProxy, journalConfig{Name: "plan"},
		journalConfig{Name: "api", Interrupt: map[string]int{"REQUEST": http.StatusForbidden}})
	ctx, r := startReactor(t, api, p.deps, DefaultOptions())

	ec := request()
	r.Handle(ctx, ec)

	resp := ec.Response()
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, "403", resp.Headers.Get("X-Observed-Status"), "platform response flows run after the failure is written")
	assert.Equal(t, "application/problem+json", resp.Headers.Get("Content-Type"))
	assert.Contains(t, p.journal.get(), "entrypoint-response")
}

func TestHandleInvokerSkipAndOverride(t *testing.T) {
	tests := []struct {
		name string
		api  journalConfig
		want string
	}{
		{name: "skip", api: journalConfig{Name: "api", SkipInvoker: true}},
		{name: "override", api: journalConfig{Name: "api", OverrideInvoker: true}, want: "override"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := newPipeline(journalConfig{Name: "platform"})
			ctx, r := startReactor(t, testApi(v1alpha1.ApiTypeProxy, journalConfig{Name: "plan"}, test.api), p.deps, DefaultOptions())

			ec := request()
			r.Handle(ctx, ec)

			journal := p.journal.get()
			assert.NotContains(t, journal, "invoke")
			if test.want != "" {
				assert.Contains(t, journal, test.want)
			}
			assert.Equal(t, http.StatusOK, ec.Response().Status)
			assert.Contains(t, journal, "entrypoint-response")
		})
	}
}

func TestHandleRequestTimeout(t *testing.T) {
	p := newPipeline(journalConfig{Name: "platform"})
	opts := DefaultOptions()
	opts.RequestTimeout = 50 * time.Millisecond
	opts.RequestTimeoutGraceDelay = 20 * time.Millisecond
	ctx, r := startReactor(t, testApi(v1alpha1.ApiTypeProxy, journalConfig{Name: "plan"}, journalConfig{Name: "api", Block: "REQUEST"}), p.deps, opts)
	p.journalErrors(r)

	ec := request()
	r.Handle(ctx, ec)

	want := []string{
		"platform REQUEST", "entrypoint-request", "plan REQUEST", "api REQUEST",
		"error-processors", "platform RESPONSE", "entrypoint-response",
	}
	if diff := cmp.Diff(want, p.journal.get()); diff != "" {
		t.Errorf("Unexpected pipeline diff (+got/-want): %s", diff)
	}
	assert.Equal(t, http.StatusGatewayTimeout, ec.Response().Status)
	assert.Equal(t, execution.KeyRequestTimeout, ec.Failure().Key)
	assert.JSONEq(t, `{"message":"Request timeout","http_status":504}`, string(ec.Response().Body))
}

func TestHandleCountsPendingRequests(t *testing.T) {
	p := newPipeline(journalConfig{Name: "platform"})
	var r *Reactor
	var pendingDuringInvoke int64
	p.endpoints[v1alpha1.ApiTypeProxy].Customize = func(c *connector.FakeEndpointConnector) {
		c.OnConnect = func(context.Context, *execution.Context) { pendingDuringInvoke = r.Pending() }
	}
	ctx, started := startReactor(t, testApi(v1alpha1.ApiTypeProxy, journalConfig{Name: "plan"}, journalConfig{Name: "api"}), p.deps, DefaultOptions())
	r = started

	r.Handle(ctx, request())
	assert.EqualValues(t, 1, pendingDuringInvoke)
	assert.EqualValues(t, 0, r.Pending())
}

func TestStartAndStop(t *testing.T) {
	p := newPipeline(journalConfig{Name: "platform"})
	ctx := logutil.NewTestLoggerIntoContext(context.Background())
	r := New(testApi(v1alpha1.ApiTypeProxy, journalConfig{Name: "plan"}, journalConfig{Name: "api"}), p.deps, DefaultOptions())
	assert.Nil(t, r.EndpointManager())

	require.NoError(t, r.Start(ctx))
	assert.Equal(t, node.Started, r.LifecycleState())
	require.NotNil(t, r.EndpointManager())
	assert.Len(t, r.EndpointManager().Endpoints(), 1)
	assert.Error(t, r.Start(ctx), "already started")

	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, node.Stopped, r.LifecycleState())
	created := p.endpoints[v1alpha1.ApiTypeProxy].Created()
	require.Len(t, created, 1)
	assert.Equal(t, []string{"start", "preStop", "stop"}, created[0].Calls())
}

func TestStartFailsOnBadConfiguration(t *testing.T) {
	p := newPipeline(journalConfig{Name: "platform"})
	api := testApi(v1alpha1.ApiTypeProxy, journalConfig{Name: "plan"}, journalConfig{Name: "api"})
	api.Flows = []v1alpha1.Flow{{Request: []v1alpha1.Step{{Policy: "unknown"}}}}

	r := New(api, p.deps, DefaultOptions())
	err := r.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown")
	assert.Equal(t, node.Stopped, r.LifecycleState())
	assert.Empty(t, p.endpoints[v1alpha1.ApiTypeProxy].Created(), "endpoints are not deployed")
}

func TestHandleWithDirectEndpointResolution(t *testing.T) {
	p := newPipeline(journalConfig{Name: "platform"})
	opts := DefaultOptions()
	opts.DirectEndpointResolution = true
	ctx, r := startReactor(t, testApi(v1alpha1.ApiTypeProxy, journalConfig{Name: "plan"}, journalConfig{Name: "api"}), p.deps, opts)
	assert.Nil(t, r.EndpointManager())

	for i := 0; i < 2; i++ {
		ec := request()
		r.Handle(ctx, ec)
		assert.Equal(t, http.StatusOK, ec.Response().Status)
	}
	created := p.endpoints[v1alpha1.ApiTypeProxy].Created()
	require.Len(t, created, 2, "one connector per request")
	for _, c := range created {
		assert.Equal(t, []string{"start", "preStop", "stop"}, c.Calls())
	}
}
