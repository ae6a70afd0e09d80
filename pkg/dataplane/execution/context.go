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

// Package execution holds the per-request state shared by every stage of the
// request pipeline.
package execution

import (
	"net/http"
	"sync"
	"time"
)

// Phase is the step of a request lifecycle a flow chain runs in.
type Phase string

const (
	PhaseRequest         Phase = "REQUEST"
	PhaseResponse        Phase = "RESPONSE"
	PhaseMessageRequest  Phase = "MESSAGE_REQUEST"
	PhaseMessageResponse Phase = "MESSAGE_RESPONSE"
)

// Public attributes, visible to policies.
const (
	AttrContextPath     = "context-path"
	AttrApi             = "api"
	AttrApiName         = "api.name"
	AttrApiDeployedAt   = "api.deployed-at"
	AttrOrganization    = "organization"
	AttrEnvironment     = "environment"
	AttrRequestID       = "request.id"
	AttrTransactionID   = "transaction.id"
	AttrPlan            = "plan"
	AttrApplication     = "application"
	AttrRequestEndpoint = "request.endpoint"
)

// Internal attributes, only visible to the data plane itself.
const (
	InternalAttrApi                 = "api"
	InternalAttrEntrypointConnector = "entrypoint-connector"
	InternalAttrInvoker             = "invoker"
	InternalAttrInvokerSkip         = "invoker.skip"
	InternalAttrEndpointConnector   = "endpoint-connector"
)

// Message is a unit of data exchanged by message apis.
type Message struct {
	ID      string
	Headers map[string]string
	Content []byte
}

// Request is the client request as seen by the pipeline.
type Request struct {
	ID          string
	Method      string
	Host        string
	Path        string
	RawQuery    string
	ContextPath string
	RemoteAddr  string
	Headers     http.Header
	Body        []byte
	Messages    []Message
}

// Response is built by the pipeline and written by the transport once ended.
type Response struct {
	Status   int
	Reason   string
	Headers  http.Header
	Body     []byte
	Messages []Message

	ended bool
}

// End marks the response as complete. A zero status becomes 200.
func (r *Response) End() {
	if r.Status == 0 {
		r.Status = http.StatusOK
	}
	r.ended = true
}

// Ended reports whether End was called.
func (r *Response) Ended() bool {
	return r.ended
}

// Context is the state of one request flowing through a reactor.
type Context struct {
	request   *Request
	response  *Response
	startedAt time.Time

	mu         sync.RWMutex
	attributes map[string]any
	internal   map[string]any
	failure    *Failure
}

// NewContext returns a context for the given request.
func NewContext(request *Request) *Context {
	if request.Headers == nil {
		request.Headers = http.Header{}
	}
	return &Context{
		request:    request,
		response:   &Response{Headers: http.Header{}},
		startedAt:  time.Now(),
		attributes: make(map[string]any),
		internal:   make(map[string]any),
	}
}

func (c *Context) Request() *Request {
	return c.request
}

func (c *Context) Response() *Response {
	return c.response
}

// StartedAt is the instant the request entered the data plane.
func (c *Context) StartedAt() time.Time {
	return c.startedAt
}

func (c *Context) SetAttribute(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attributes[name] = value
}

func (c *Context) Attribute(name string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attributes[name]
}

// StringAttribute returns the attribute when it holds a string, "" otherwise.
func (c *Context) StringAttribute(name string) string {
	s, _ := c.Attribute(name).(string)
	return s
}

func (c *Context) RemoveAttribute(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attributes, name)
}

// Attributes returns a copy of the public attributes.
func (c *Context) Attributes() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.attributes))
	for k, v := range c.attributes {
		out[k] = v
	}
	return out
}

func (c *Context) SetInternalAttribute(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.internal[name] = value
}

func (c *Context) InternalAttribute(name string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.internal[name]
}

func (c *Context) RemoveInternalAttribute(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.internal, name)
}

// Failure returns the failure recorded by an interruption, if any.
func (c *Context) Failure() *Failure {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failure
}

func (c *Context) SetFailure(failure *Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = failure
}
