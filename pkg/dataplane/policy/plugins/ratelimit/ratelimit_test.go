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

package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
)

func requestFrom(application string) *execution.Context {
	ec := execution.NewContext(&execution.Request{Method: http.MethodGet, Path: "/"})
	if application != "" {
		ec.SetAttribute(execution.AttrApplication, application)
	}
	return ec
}

func TestRateLimit(t *testing.T) {
	p, err := RateLimitFactory(context.Background(), json.RawMessage(`{"limit":2,"period":"1h"}`))
	require.NoError(t, err)
	rl := p.(*RateLimit)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ec := requestFrom("app-1")
		assert.True(t, rl.OnRequest(ctx, ec).IsContinue(), "request %d", i)
		assert.Equal(t, "2", ec.Response().Headers.Get(LimitHeader))
	}

	ec := requestFrom("app-1")
	result := rl.OnRequest(ctx, ec)
	require.True(t, result.IsInterrupted())
	assert.Equal(t, http.StatusTooManyRequests, result.Failure().StatusCode)
	assert.Equal(t, execution.KeyRateLimitTooMany, result.Failure().Key)
	assert.Equal(t, "0", ec.Response().Headers.Get(RemainingHeader))

	assert.True(t, rl.OnRequest(ctx, requestFrom("app-2")).IsContinue(), "applications have their own bucket")
	assert.True(t, rl.OnRequest(ctx, requestFrom("")).IsContinue())
}

func TestRateLimitFactoryErrors(t *testing.T) {
	tests := []struct {
		name          string
		configuration string
	}{
		{name: "malformed", configuration: `{"limit":`},
		{name: "missing limit", configuration: `{}`},
		{name: "negative limit", configuration: `{"limit":-1}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := RateLimitFactory(context.Background(), json.RawMessage(test.configuration))
			assert.Error(t, err)
		})
	}
}
