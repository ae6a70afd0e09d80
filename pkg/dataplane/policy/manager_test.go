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

package policy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	errutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/error"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

type journal struct {
	entries []string
}

// recorder appends "<name>:<phase>" to its journal.
type recorder struct {
	name      string
	interrupt bool
	stopErr   error
	journal   *journal
	stopped   bool
}

func (r *recorder) ID() string { return "recorder" }

func (r *recorder) record(phase execution.Phase) execution.Result {
	r.journal.entries = append(r.journal.entries, r.name+":"+string(phase))
	if r.interrupt {
		return execution.InterruptWith(execution.NewFailure(http.StatusForbidden, "", ""))
	}
	return execution.Continue()
}

func (r *recorder) OnRequest(context.Context, *execution.Context) execution.Result {
	return r.record(execution.PhaseRequest)
}

func (r *recorder) OnResponse(context.Context, *execution.Context) execution.Result {
	return r.record(execution.PhaseResponse)
}

func (r *recorder) Stop(context.Context) error {
	r.stopped = true
	return r.stopErr
}

type requestOnly struct{}

func (requestOnly) ID() string { return "request-only" }

func (requestOnly) OnRequest(context.Context, *execution.Context) execution.Result {
	panic("policy bug")
}

func testRegistry(j *journal, created *[]*recorder) *Registry {
	registry := NewRegistry()
	registry.Register("recorder", func(_ context.Context, configuration json.RawMessage) (Policy, error) {
		r := &recorder{journal: j}
		var config struct {
			Name      string `json:"name"`
			Interrupt bool   `json:"interrupt"`
			StopErr   string `json:"stopErr"`
		}
		if err := json.Unmarshal(configuration, &config); err != nil {
			return nil, err
		}
		r.name, r.interrupt = config.Name, config.Interrupt
		if config.StopErr != "" {
			r.stopErr = errors.New(config.StopErr)
		}
		*created = append(*created, r)
		return r, nil
	})
	registry.Register("request-only", func(context.Context, json.RawMessage) (Policy, error) {
		return requestOnly{}, nil
	})
	return registry
}

func step(name string, extra ...string) v1alpha1.Step {
	config := `{"name":"` + name + `"`
	for _, e := range extra {
		config += "," + e
	}
	return v1alpha1.Step{Policy: "recorder", Configuration: json.RawMessage(config + "}")}
}

func TestFlowChainOrder(t *testing.T) {
	ctx := logutil.NewTestLoggerIntoContext(context.Background())
	j := &journal{}
	var created []*recorder
	m := NewManager("api", testRegistry(j, &created))
	require.NoError(t, m.Start(ctx))

	flows := []v1alpha1.Flow{
		{Name: "first", Request: []v1alpha1.Step{step("a"), step("b")}, Response: []v1alpha1.Step{step("c")}},
		{Name: "disabled", Enabled: ptr.To(false), Request: []v1alpha1.Step{step("disabled-flow")}},
		{Name: "second", Request: []v1alpha1.Step{
			{Policy: "recorder", Enabled: ptr.To(false), Configuration: json.RawMessage(`{"name":"disabled-step"}`)},
			step("d"),
		}},
	}
	fc, err := m.NewFlowChain(ctx, "api", flows)
	require.NoError(t, err)
	assert.Equal(t, 3, fc.Chain(execution.PhaseRequest).Len())
	assert.Equal(t, 0, fc.Chain(execution.PhaseMessageRequest).Len())

	ec := execution.NewContext(&execution.Request{})
	require.True(t, fc.Execute(ctx, ec, execution.PhaseRequest).IsContinue())
	require.True(t, fc.Execute(ctx, ec, execution.PhaseMessageRequest).IsContinue())
	require.True(t, fc.Execute(ctx, ec, execution.PhaseResponse).IsContinue())

	want := []string{"a:REQUEST", "b:REQUEST", "d:REQUEST", "c:RESPONSE"}
	if diff := cmp.Diff(want, j.entries); diff != "" {
		t.Errorf("Unexpected execution diff (+got/-want): %s", diff)
	}
}

func TestChainStopsAtInterruption(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	var created []*recorder
	m := NewManager("api", testRegistry(j, &created), WithTracing(true))

	fc, err := m.NewFlowChain(ctx, "api", []v1alpha1.Flow{{
		Request: []v1alpha1.Step{step("a"), step("deny", `"interrupt":true`), step("never")},
	}})
	require.NoError(t, err)

	result := fc.Execute(ctx, execution.NewContext(&execution.Request{}), execution.PhaseRequest)
	require.True(t, result.IsInterrupted())
	assert.Equal(t, http.StatusForbidden, result.Failure().StatusCode)
	assert.Equal(t, []string{"a:REQUEST", "deny:REQUEST"}, j.entries)
}

func TestChainRecoversFromPanics(t *testing.T) {
	m := NewManager("api", testRegistry(&journal{}, new([]*recorder)))
	fc, err := m.NewFlowChain(context.Background(), "api", []v1alpha1.Flow{{
		Request:  []v1alpha1.Step{{Policy: "request-only"}},
		Response: []v1alpha1.Step{{Policy: "request-only"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, fc.Chain(execution.PhaseResponse).Len(), "policies are only chained in the phases they support")

	result := fc.Execute(context.Background(), execution.NewContext(&execution.Request{}), execution.PhaseRequest)
	require.True(t, result.IsInterrupted())
	assert.ErrorContains(t, result.Err(), "policy bug")
}

func TestNewFlowChainUnknownPolicy(t *testing.T) {
	m := NewManager("api", NewRegistry())
	_, err := m.NewFlowChain(context.Background(), "api", []v1alpha1.Flow{{Request: []v1alpha1.Step{{Policy: "unknown"}}}})
	assert.Equal(t, errutil.BadConfiguration, errutil.CanonicalCode(err))
}

func TestPlanFlowChain(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	var created []*recorder
	m := NewManager("api", testRegistry(j, &created))

	pc, err := m.NewPlanFlowChain(ctx, []v1alpha1.Plan{
		{ID: "gold", Flows: []v1alpha1.Flow{{Request: []v1alpha1.Step{step("gold")}}}},
		{ID: "silver", Flows: []v1alpha1.Flow{{Request: []v1alpha1.Step{step("silver")}}}},
	})
	require.NoError(t, err)

	ec := execution.NewContext(&execution.Request{})
	require.True(t, pc.Execute(ctx, ec, execution.PhaseRequest).IsContinue(), "no plan, nothing to run")
	ec.SetAttribute(execution.AttrPlan, "silver")
	require.True(t, pc.Execute(ctx, ec, execution.PhaseRequest).IsContinue())
	ec.SetAttribute(execution.AttrPlan, "unknown")
	require.True(t, pc.Execute(ctx, ec, execution.PhaseRequest).IsContinue())

	assert.Equal(t, []string{"silver:REQUEST"}, j.entries)
}

func TestManagerStopReachesEveryPolicy(t *testing.T) {
	ctx := context.Background()
	var created []*recorder
	m := NewManager("api", testRegistry(&journal{}, &created))
	_, err := m.NewFlowChain(ctx, "api", []v1alpha1.Flow{{
		Request: []v1alpha1.Step{step("a", `"stopErr":"cannot stop"`), step("b")},
	}})
	require.NoError(t, err)
	require.Len(t, created, 2)

	assert.ErrorContains(t, m.Stop(ctx), "cannot stop")
	for _, r := range created {
		assert.True(t, r.stopped, "policy %s", r.name)
	}
	assert.NoError(t, m.Stop(ctx), "stopped policies are forgotten")
}

func TestRegistryPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.Register("p", func(context.Context, json.RawMessage) (Policy, error) { return requestOnly{}, nil })
	assert.PanicsWithValue(t, `policy type "p" is already registered`, func() {
		r.Register("p", nil)
	})
	assert.Equal(t, []string{"p"}, r.Types())
}
