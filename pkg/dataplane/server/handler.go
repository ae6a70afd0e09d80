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

// Package server binds deployed reactors to http and exposes the health of
// the node over grpc.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/processor"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/reactor"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

const DefaultMaxRequestBodyBytes = 10 << 20

// AcceptorSource lists the acceptors requests can be routed to.
type AcceptorSource interface {
	Acceptors() []reactor.Acceptor
}

// Handler routes each request to the reactor of the most specific acceptor
// and writes the response the reactor built.
type Handler struct {
	source              AcceptorSource
	maxRequestBodyBytes int64
}

var _ http.Handler = &Handler{}

func NewHandler(source AcceptorSource, maxRequestBodyBytes int64) *Handler {
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = DefaultMaxRequestBodyBytes
	}
	return &Handler{source: source, maxRequestBodyBytes: maxRequestBodyBytes}
}

// Match returns the acceptor with the longest path accepting host and path.
// At equal length an acceptor bound to a host wins over a wildcard one.
func Match(acceptors []reactor.Acceptor, host, path string) (reactor.Acceptor, bool) {
	var best reactor.Acceptor
	found := false
	for _, a := range acceptors {
		if !a.Accepts(host, path) {
			continue
		}
		if !found || better(a, best) {
			best, found = a, true
		}
	}
	return best, found
}

func better(a, b reactor.Acceptor) bool {
	la, lb := len(strings.TrimSuffix(a.Path, "/")), len(strings.TrimSuffix(b.Path, "/"))
	if la != lb {
		return la > lb
	}
	return a.Host != "" && b.Host == ""
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())
	acceptor, ok := Match(h.source.Acceptors(), r.Host, r.URL.Path)
	if !ok {
		logger.V(logutil.DEBUG).Info("No api accepts the request", "host", r.Host, "path", r.URL.Path)
		writeError(w, http.StatusNotFound, "No context-path matches the request URI.")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Unable to read the request body")
		return
	}

	ec := execution.NewContext(&execution.Request{
		ID:          r.Header.Get(processor.RequestIDHeader),
		Method:      r.Method,
		Host:        r.Host,
		Path:        r.URL.Path,
		RawQuery:    r.URL.RawQuery,
		ContextPath: acceptor.Path,
		RemoteAddr:  r.RemoteAddr,
		Headers:     r.Header.Clone(),
		Body:        body,
	})
	acceptor.Reactor.Handle(r.Context(), ec)
	writeResponse(w, ec.Response())
}

func writeResponse(w http.ResponseWriter, resp *execution.Response) {
	headers := w.Header()
	for k, vv := range resp.Headers {
		headers[k] = vv
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	body, _ := json.Marshal(map[string]any{"message": message, "http_status": status})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
