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
	"net"
	"strings"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
)

// Acceptor routes incoming requests to a reactor.
type Acceptor struct {
	Type v1alpha1.ListenerType
	// Host and Path of http acceptors. An empty host accepts any host.
	Host string
	Path string
	// ApiID of subscription acceptors.
	ApiID string

	Reactor *Reactor
}

// Acceptors returns one acceptor per path of the http listeners and one per
// subscription listener, in declaration order.
func (r *Reactor) Acceptors() []Acceptor {
	var acceptors []Acceptor
	for _, listener := range r.api.Listeners {
		switch listener.Type {
		case v1alpha1.ListenerTypeHTTP:
			for _, p := range listener.Paths {
				acceptors = append(acceptors, Acceptor{Type: v1alpha1.ListenerTypeHTTP, Host: p.Host, Path: p.Path, Reactor: r})
			}
		case v1alpha1.ListenerTypeSubscription:
			acceptors = append(acceptors, Acceptor{Type: v1alpha1.ListenerTypeSubscription, ApiID: r.api.ID, Reactor: r})
		}
	}
	return acceptors
}

// Accepts reports whether an http request for host and path is accepted.
// Paths match on segment boundaries, hosts ignore the port.
func (a Acceptor) Accepts(host, path string) bool {
	if a.Type != v1alpha1.ListenerTypeHTTP {
		return false
	}
	if a.Host != "" {
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if !strings.EqualFold(a.Host, host) {
			return false
		}
	}
	prefix := strings.TrimSuffix(a.Path, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
