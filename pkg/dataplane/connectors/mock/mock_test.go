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

package mock

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
)

func TestMockFactory(t *testing.T) {
	tests := []struct {
		name          string
		shared        string
		configuration string
		wantApi       v1alpha1.ApiType
		wantModes     []connector.Mode
		wantErr       bool
	}{
		{
			name:      "defaults",
			wantApi:   v1alpha1.ApiTypeProxy,
			wantModes: []connector.Mode{connector.ModeRequestResponse},
		},
		{
			name:          "message api",
			configuration: `{"apiType":"message"}`,
			wantApi:       v1alpha1.ApiTypeMessage,
			wantModes:     []connector.Mode{connector.ModePublish, connector.ModeSubscribe},
		},
		{
			name:          "endpoint configuration over shared one",
			shared:        `{"apiType":"message","modes":["PUBLISH"]}`,
			configuration: `{"modes":["SUBSCRIBE"]}`,
			wantApi:       v1alpha1.ApiTypeMessage,
			wantModes:     []connector.Mode{connector.ModeSubscribe},
		},
		{name: "invalid status", configuration: `{"status":42}`, wantErr: true},
		{name: "unknown api type", configuration: `{"apiType":"grpc"}`, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var shared, configuration json.RawMessage
			if test.shared != "" {
				shared = json.RawMessage(test.shared)
			}
			if test.configuration != "" {
				configuration = json.RawMessage(test.configuration)
			}
			c, err := MockFactory(context.Background(), configuration, shared)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantApi, c.SupportedApi())
			assert.ElementsMatch(t, test.wantModes, c.SupportedModes().UnsortedList())
		})
	}
}

func TestMockProxyResponse(t *testing.T) {
	m, err := New(Config{Status: http.StatusAccepted, Content: `{"mocked":true}`, Headers: map[string]string{"Content-Type": "application/json"}})
	require.NoError(t, err)

	ec := execution.NewContext(&execution.Request{Method: http.MethodGet, Path: "/"})
	require.NoError(t, m.Connect(context.Background(), ec))

	resp := ec.Response()
	assert.Equal(t, http.StatusAccepted, resp.Status)
	assert.Equal(t, `{"mocked":true}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
	assert.Empty(t, resp.Messages)
}

func TestMockMessages(t *testing.T) {
	m, err := New(Config{ApiType: v1alpha1.ApiTypeMessage, Content: "tick", MessageCount: 3})
	require.NoError(t, err)

	ec := execution.NewContext(&execution.Request{Messages: []execution.Message{{Content: []byte("a")}, {Content: []byte("b")}}})
	require.NoError(t, m.Connect(context.Background(), ec))

	resp := ec.Response()
	assert.Equal(t, "2", resp.Headers.Get(MessagesReceivedHeader))
	require.Len(t, resp.Messages, 3)
	var sequence []string
	for _, msg := range resp.Messages {
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "tick", string(msg.Content))
		sequence = append(sequence, msg.Headers["X-Mock-Sequence"])
	}
	if diff := cmp.Diff([]string{"0", "1", "2"}, sequence); diff != "" {
		t.Errorf("Unexpected message sequence (+got/-want): %s", diff)
	}
}

func TestMockDelayHonoursContext(t *testing.T) {
	m, err := New(Config{Delay: metav1.Duration{Duration: time.Minute}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = m.Connect(ctx, execution.NewContext(&execution.Request{}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
