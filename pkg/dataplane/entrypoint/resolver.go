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

// Package entrypoint resolves the client facing connector of a request.
package entrypoint

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"go.uber.org/multierr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

type candidate struct {
	listener  *v1alpha1.Listener
	connector connector.EntrypointConnector
}

// Resolver owns the entrypoint connectors of one api, one per listener
// entrypoint with a registered factory, in declaration order.
type Resolver struct {
	apiID      string
	candidates []candidate
}

// NewResolver builds the entrypoint connectors of api. Entrypoints without a
// registered factory, or whose factory fails, are logged and skipped.
func NewResolver(ctx context.Context, api *v1alpha1.Api, factories connector.EntrypointFactories) *Resolver {
	logger := log.FromContext(ctx).WithValues("api", api.ID)
	r := &Resolver{apiID: api.ID}
	for i := range api.Listeners {
		listener := &api.Listeners[i]
		for _, ep := range listener.Entrypoints {
			factory, ok := factories.EntrypointFactory(ep.Type)
			if !ok {
				logger.Info("No entrypoint connector registered for type, skipping entrypoint", "type", ep.Type)
				continue
			}
			c, err := create(ctx, factory, ep.Configuration)
			if err != nil {
				logger.Error(err, "Unable to create entrypoint connector, skipping entrypoint", "type", ep.Type)
				continue
			}
			r.candidates = append(r.candidates, candidate{listener: listener, connector: c})
		}
	}
	logger.V(logutil.VERBOSE).Info("Entrypoint connectors created", "count", len(r.candidates))
	return r
}

func create(ctx context.Context, factory connector.EntrypointFactory, configuration json.RawMessage) (c connector.EntrypointConnector, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("entrypoint connector factory panicked: %v", r)
		}
	}()
	c, err = factory(ctx, configuration)
	if err == nil && c == nil {
		err = fmt.Errorf("entrypoint connector factory returned no connector")
	}
	return c, err
}

// Resolve stores the first entrypoint connector accepting the request as an
// internal attribute of ec and returns it, or nil when none does.
func (r *Resolver) Resolve(ec *execution.Context) connector.EntrypointConnector {
	for _, cand := range r.candidates {
		if !listens(cand.listener, ec.Request()) {
			continue
		}
		if cand.connector.Matches(ec) {
			ec.SetInternalAttribute(execution.InternalAttrEntrypointConnector, cand.connector)
			return cand.connector
		}
	}
	return nil
}

// listens reports whether a request reached the api through listener. Http
// requests carry the context path they were accepted on, subscriptions none.
func listens(listener *v1alpha1.Listener, req *execution.Request) bool {
	switch listener.Type {
	case v1alpha1.ListenerTypeHTTP:
		if req.ContextPath == "" {
			return false
		}
		return slices.ContainsFunc(listener.Paths, func(p v1alpha1.Path) bool { return p.Path == req.ContextPath })
	case v1alpha1.ListenerTypeSubscription:
		return req.ContextPath == ""
	}
	return false
}

// Connectors returns the entrypoint connectors in resolution order.
func (r *Resolver) Connectors() []connector.EntrypointConnector {
	out := make([]connector.EntrypointConnector, 0, len(r.candidates))
	for _, cand := range r.candidates {
		out = append(out, cand.connector)
	}
	return out
}

func (r *Resolver) Start(ctx context.Context) error {
	return r.each(ctx, "start", func(c connector.EntrypointConnector) error { return c.Start(ctx) })
}

func (r *Resolver) PreStop(ctx context.Context) error {
	return r.each(ctx, "preStop", func(c connector.EntrypointConnector) error { return c.PreStop(ctx) })
}

func (r *Resolver) Stop(ctx context.Context) error {
	return r.each(ctx, "stop", func(c connector.EntrypointConnector) error { return c.Stop(ctx) })
}

func (r *Resolver) each(ctx context.Context, operation string, fn func(connector.EntrypointConnector) error) error {
	logger := log.FromContext(ctx).WithValues("api", r.apiID)
	var errs error
	for _, cand := range r.candidates {
		err := func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("panic: %v", rec)
				}
			}()
			return fn(cand.connector)
		}()
		if err != nil {
			logger.Error(err, "Entrypoint connector lifecycle call failed", "operation", operation, "type", cand.connector.ID())
			errs = multierr.Append(errs, fmt.Errorf("%s entrypoint %s: %w", operation, cand.connector.ID(), err))
		}
	}
	return errs
}
