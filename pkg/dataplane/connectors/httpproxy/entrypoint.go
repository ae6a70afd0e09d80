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

package httpproxy

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/textproto"
	"strings"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
)

const (
	ForwardedForHeader    = "X-Forwarded-For"
	ForwardedHostHeader   = "X-Forwarded-Host"
	ForwardedPrefixHeader = "X-Forwarded-Prefix"
)

var hopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func dropHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			if k = textproto.TrimString(k); k != "" {
				h.Del(k)
			}
		}
	}
	for _, k := range hopByHop {
		h.Del(k)
	}
}

// Entrypoint is the client side of proxy apis. It adds the forwarding headers
// to the request and strips the hop-by-hop headers of the response, except a
// close directive set by the gateway itself.
type Entrypoint struct {
	connector.Base
}

var _ connector.EntrypointConnector = &Entrypoint{}

// EntrypointFactory defines the factory function for Entrypoint.
func EntrypointFactory(context.Context, json.RawMessage) (connector.EntrypointConnector, error) {
	return NewEntrypoint(), nil
}

func NewEntrypoint() *Entrypoint {
	return &Entrypoint{Base: connector.NewBase(HttpProxyConnectorType, v1alpha1.ApiTypeProxy, connector.ModeRequestResponse)}
}

func (e *Entrypoint) Matches(*execution.Context) bool {
	return true
}

func (e *Entrypoint) HandleRequest(_ context.Context, ec *execution.Context) error {
	req := ec.Request()
	if ip, _, err := net.SplitHostPort(req.RemoteAddr); err == nil && ip != "" {
		if prior := req.Headers.Get(ForwardedForHeader); prior != "" {
			req.Headers.Set(ForwardedForHeader, prior+", "+ip)
		} else {
			req.Headers.Set(ForwardedForHeader, ip)
		}
	}
	if req.Host != "" {
		req.Headers.Set(ForwardedHostHeader, req.Host)
	}
	if req.ContextPath != "" && req.ContextPath != "/" {
		req.Headers.Set(ForwardedPrefixHeader, req.ContextPath)
	}
	return nil
}

func (e *Entrypoint) HandleResponse(_ context.Context, ec *execution.Context) error {
	headers := ec.Response().Headers
	closing := strings.EqualFold(headers.Get("Connection"), "close")
	dropHopByHop(headers)
	if closing {
		headers.Set("Connection", "close")
	}
	return nil
}
