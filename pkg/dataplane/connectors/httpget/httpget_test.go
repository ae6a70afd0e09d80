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

package httpget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
)

func messages(contents ...string) []execution.Message {
	var out []execution.Message
	for i, c := range contents {
		out = append(out, execution.Message{ID: string(rune('a' + i)), Content: []byte(c), Headers: map[string]string{"k": c}})
	}
	return out
}

func TestMatchesOnlyGet(t *testing.T) {
	h := New(Config{})
	assert.True(t, h.Matches(execution.NewContext(&execution.Request{Method: http.MethodGet})))
	assert.False(t, h.Matches(execution.NewContext(&execution.Request{Method: http.MethodPost})))
}

func TestHandleRequestLimit(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantLimit int
		wantKey   string
	}{
		{name: "configured limit", wantLimit: 2},
		{name: "lower limit requested", query: "limit=1", wantLimit: 1},
		{name: "higher limit requested", query: "limit=50", wantLimit: 2},
		{name: "invalid limit", query: "limit=-3", wantKey: "HTTP_GET_INVALID_LIMIT"},
		{name: "invalid query", query: "limit=%zz", wantKey: "HTTP_GET_INVALID_QUERY"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := New(Config{MessagesLimitCount: 2})
			ec := execution.NewContext(&execution.Request{Method: http.MethodGet, RawQuery: test.query})
			err := h.HandleRequest(context.Background(), ec)
			if test.wantKey != "" {
				var failure *execution.Failure
				require.True(t, errors.As(err, &failure))
				assert.Equal(t, http.StatusBadRequest, failure.StatusCode)
				assert.Equal(t, test.wantKey, failure.Key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantLimit, ec.InternalAttribute(internalAttrLimit))
		})
	}
}

func TestHandleResponseJSON(t *testing.T) {
	h := New(Config{MessagesLimitCount: 2, HeadersInPayload: true})
	ec := execution.NewContext(&execution.Request{Method: http.MethodGet})
	require.NoError(t, h.HandleRequest(context.Background(), ec))
	ec.Response().Messages = messages("one", "two", "three")

	require.NoError(t, h.HandleResponse(context.Background(), ec))
	resp := ec.Response()
	assert.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
	assert.JSONEq(t, `{
		"items": [
			{"id": "a", "content": "one", "headers": {"k": "one"}},
			{"id": "b", "content": "two", "headers": {"k": "two"}}
		],
		"pagination": {"count": 2, "limit": 2}
	}`, string(resp.Body))
}

func TestHandleResponseText(t *testing.T) {
	h := New(Config{})
	ec := execution.NewContext(&execution.Request{Method: http.MethodGet, Headers: http.Header{"Accept": {"text/plain"}}})
	require.NoError(t, h.HandleRequest(context.Background(), ec))
	ec.Response().Messages = messages("one", "two")

	require.NoError(t, h.HandleResponse(context.Background(), ec))
	assert.Equal(t, "text/plain", ec.Response().Headers.Get("Content-Type"))
	assert.Equal(t, "one\ntwo\n", string(ec.Response().Body))
}

func TestHandleResponseWithoutMessages(t *testing.T) {
	c, err := HttpGetFactory(context.Background(), json.RawMessage(`{"messagesLimitCount":10}`))
	require.NoError(t, err)
	ec := execution.NewContext(&execution.Request{Method: http.MethodGet})

	require.NoError(t, c.HandleResponse(context.Background(), ec))
	assert.JSONEq(t, `{"items":[],"pagination":{"count":0,"limit":10}}`, string(ec.Response().Body))
}

func TestHandleResponseKeepsFailure(t *testing.T) {
	c, err := HttpGetFactory(context.Background(), nil)
	require.NoError(t, err)
	ec := execution.NewContext(&execution.Request{Method: http.MethodGet})
	ec.SetFailure(execution.NewFailure(http.StatusForbidden, "POLICY_FAILURE", "forbidden"))
	ec.Response().Body = []byte(`{"message":"forbidden","http_status":403}`)
	ec.Response().Messages = messages("one")

	require.NoError(t, c.HandleResponse(context.Background(), ec))
	assert.JSONEq(t, `{"message":"forbidden","http_status":403}`, string(ec.Response().Body))
}
