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

// Package httpproxy provides the connectors of proxy apis exchanging plain
// http requests with their backends.
package httpproxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	errutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/error"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

const HttpProxyConnectorType = "http-proxy"

// EndpointConfig is the configuration of a single backend.
type EndpointConfig struct {
	// Target is the base url requests are forwarded to. The path of the
	// request below the api context path is appended to it.
	Target string `json:"target"`
}

// SharedConfig is the configuration shared by the endpoints of a group.
type SharedConfig struct {
	HTTP    HTTPOptions `json:"http,omitempty"`
	Headers []Header    `json:"headers,omitempty"`
}

type HTTPOptions struct {
	ConnectTimeout        metav1.Duration `json:"connectTimeout,omitempty"`
	ReadTimeout           metav1.Duration `json:"readTimeout,omitempty"`
	IdleTimeout           metav1.Duration `json:"idleTimeout,omitempty"`
	MaxConnectionsPerHost int             `json:"maxConnectionsPerHost,omitempty"`
	PreserveHost          bool            `json:"preserveHost,omitempty"`
	InsecureSkipVerify    bool            `json:"insecureSkipVerify,omitempty"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func defaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		ConnectTimeout: metav1.Duration{Duration: 5 * time.Second},
		ReadTimeout:    metav1.Duration{Duration: 10 * time.Second},
		IdleTimeout:    metav1.Duration{Duration: 60 * time.Second},
	}
}

// Endpoint forwards requests to its target. The transport only exists
// between Start and Stop.
type Endpoint struct {
	connector.Base
	target *url.URL
	shared SharedConfig

	mu        sync.RWMutex
	transport *http.Transport
}

var _ connector.EndpointConnector = &Endpoint{}

// EndpointFactory defines the factory function for Endpoint.
func EndpointFactory(_ context.Context, configuration, sharedConfiguration json.RawMessage) (connector.EndpointConnector, error) {
	config := EndpointConfig{}
	if err := unmarshal(configuration, &config); err != nil {
		return nil, err
	}
	shared := SharedConfig{HTTP: defaultHTTPOptions()}
	if err := unmarshal(sharedConfiguration, &shared); err != nil {
		return nil, err
	}
	return NewEndpoint(config, shared)
}

func unmarshal(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("failed to parse the configuration of the '%s' connector: %w", HttpProxyConnectorType, err)
	}
	return nil
}

func NewEndpoint(config EndpointConfig, shared SharedConfig) (*Endpoint, error) {
	target, err := url.Parse(config.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", config.Target, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("invalid target %q: scheme must be http or https", config.Target)
	}
	return &Endpoint{
		Base:   connector.NewBase(HttpProxyConnectorType, v1alpha1.ApiTypeProxy, connector.ModeRequestResponse),
		target: target,
		shared: shared,
	}, nil
}

func (e *Endpoint) Target() *url.URL {
	return e.target
}

func (e *Endpoint) Start(context.Context) error {
	opts := e.shared.HTTP
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout.Duration, KeepAlive: 60 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       opts.MaxConnectionsPerHost,
		IdleConnTimeout:       opts.IdleTimeout.Duration,
		ResponseHeaderTimeout: opts.ReadTimeout.Duration,
		TLSHandshakeTimeout:   opts.ConnectTimeout.Duration,
		ExpectContinueTimeout: time.Second,
	}
	e.mu.Lock()
	e.transport = transport
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) Stop(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transport != nil {
		e.transport.CloseIdleConnections()
		e.transport = nil
	}
	return nil
}

// Connect sends the request of ec to the target and copies the backend
// response into ec. Unreachable backends fail with a BadGateway error.
func (e *Endpoint) Connect(ctx context.Context, ec *execution.Context) error {
	e.mu.RLock()
	transport := e.transport
	e.mu.RUnlock()
	if transport == nil {
		return errutil.Error{Code: errutil.ServiceUnavailable, Msg: fmt.Sprintf("endpoint %s is not started", e.target)}
	}

	req := ec.Request()
	upstream := *e.target
	upstream.Path = joinSlash(e.target.Path, strings.TrimPrefix(req.Path, req.ContextPath))
	upstream.RawQuery = req.RawQuery

	outbound, err := http.NewRequestWithContext(ctx, req.Method, upstream.String(), bytes.NewReader(req.Body))
	if err != nil {
		return errutil.Error{Code: errutil.BadRequest, Msg: err.Error()}
	}
	outbound.Header = req.Headers.Clone()
	dropHopByHop(outbound.Header)
	for _, h := range e.shared.Headers {
		outbound.Header.Set(h.Name, h.Value)
	}
	if e.shared.HTTP.PreserveHost && req.Host != "" {
		outbound.Host = req.Host
	}

	log.FromContext(ctx).V(logutil.TRACE).Info("Forwarding request", "url", upstream.String(), "method", req.Method)
	resp, err := transport.RoundTrip(outbound)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request to %s aborted: %w", upstream.Redacted(), ctx.Err())
		}
		return errutil.Error{Code: errutil.BadGateway, Msg: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errutil.Error{Code: errutil.BadGateway, Msg: fmt.Sprintf("failed to read the response of %s: %v", upstream.Redacted(), err)}
	}
	dropHopByHop(resp.Header)
	out := ec.Response()
	for k, vv := range resp.Header {
		out.Headers[k] = append([]string(nil), vv...)
	}
	out.Status = resp.StatusCode
	out.Body = body
	return nil
}

func joinSlash(a, b string) string {
	if b == "" {
		return a
	}
	as := strings.HasSuffix(a, "/")
	bs := strings.HasPrefix(b, "/")
	switch {
	case as && bs:
		return a + b[1:]
	case !as && !bs:
		return a + "/" + b
	default:
		return a + b
	}
}
