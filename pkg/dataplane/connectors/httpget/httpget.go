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

// Package httpget provides an entrypoint letting clients of message apis
// fetch messages with a plain GET request.
package httpget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
)

const (
	HttpGetConnectorType = "http-get"

	DefaultMessagesLimitCount = 500

	limitParam        = "limit"
	internalAttrLimit = "http-get.limit"
)

type Config struct {
	MessagesLimitCount int  `json:"messagesLimitCount,omitempty"`
	HeadersInPayload   bool `json:"headersInPayload,omitempty"`
}

type item struct {
	ID      string            `json:"id,omitempty"`
	Content string            `json:"content"`
	Headers map[string]string `json:"headers,omitempty"`
}

type payload struct {
	Items      []item     `json:"items"`
	Pagination pagination `json:"pagination"`
}

type pagination struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// HttpGet serves the messages a subscription produced as a single response.
type HttpGet struct {
	connector.Base
	config Config
}

var _ connector.EntrypointConnector = &HttpGet{}

// HttpGetFactory defines the factory function for HttpGet.
func HttpGetFactory(_ context.Context, configuration json.RawMessage) (connector.EntrypointConnector, error) {
	config := Config{}
	if len(configuration) > 0 {
		if err := json.Unmarshal(configuration, &config); err != nil {
			return nil, fmt.Errorf("failed to parse the configuration of the '%s' connector: %w", HttpGetConnectorType, err)
		}
	}
	return New(config), nil
}

func New(config Config) *HttpGet {
	if config.MessagesLimitCount <= 0 {
		config.MessagesLimitCount = DefaultMessagesLimitCount
	}
	return &HttpGet{
		Base:   connector.NewBase(HttpGetConnectorType, v1alpha1.ApiTypeMessage, connector.ModeSubscribe),
		config: config,
	}
}

func (h *HttpGet) Matches(ec *execution.Context) bool {
	return ec.Request().Method == http.MethodGet
}

// HandleRequest reads the limit query parameter, bounded by the configured
// limit.
func (h *HttpGet) HandleRequest(_ context.Context, ec *execution.Context) error {
	limit := h.config.MessagesLimitCount
	query, err := url.ParseQuery(ec.Request().RawQuery)
	if err != nil {
		return execution.NewFailure(http.StatusBadRequest, "HTTP_GET_INVALID_QUERY", err.Error())
	}
	if raw := query.Get(limitParam); raw != "" {
		requested, err := strconv.Atoi(raw)
		if err != nil || requested <= 0 {
			return execution.NewFailure(http.StatusBadRequest, "HTTP_GET_INVALID_LIMIT", fmt.Sprintf("invalid limit %q", raw))
		}
		limit = min(limit, requested)
	}
	ec.SetInternalAttribute(internalAttrLimit, limit)
	return nil
}

// HandleResponse writes the response messages as a json document, or as one
// line per message when the client accepts text/plain. A failed request keeps
// the failure already written.
func (h *HttpGet) HandleResponse(_ context.Context, ec *execution.Context) error {
	if ec.Failure() != nil {
		return nil
	}
	limit, ok := ec.InternalAttribute(internalAttrLimit).(int)
	if !ok {
		limit = h.config.MessagesLimitCount
	}
	resp := ec.Response()
	messages := resp.Messages
	if len(messages) > limit {
		messages = messages[:limit]
	}

	if strings.Contains(ec.Request().Headers.Get("Accept"), "text/plain") {
		var buf bytes.Buffer
		for _, m := range messages {
			buf.Write(m.Content)
			buf.WriteByte('\n')
		}
		resp.Headers.Set("Content-Type", "text/plain")
		resp.Body = buf.Bytes()
		return nil
	}

	body := payload{Items: make([]item, 0, len(messages)), Pagination: pagination{Count: len(messages), Limit: limit}}
	for _, m := range messages {
		it := item{ID: m.ID, Content: string(m.Content)}
		if h.config.HeadersInPayload {
			it.Headers = m.Headers
		}
		body.Items = append(body.Items, it)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp.Headers.Set("Content-Type", "application/json")
	resp.Body = encoded
	return nil
}
