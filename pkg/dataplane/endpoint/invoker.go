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

package endpoint

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
	"sigs.k8s.io/gateway-api-dataplane/pkg/tracing"
)

const InvokerID = "endpoint-invoker"

// Selector chooses the endpoint connector of a request. Implemented by
// Manager (policy based selection) and ConnectorResolver (direct resolution).
type Selector interface {
	Select(ctx context.Context, ec *execution.Context) connector.EndpointConnector
}

type lifecycle interface {
	Start(ctx context.Context) error
	PreStop(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Invoker is the default invoker of a reactor: it selects an endpoint
// connector and connects the request to it, retrying on another selection
// when failover is enabled.
//
// Connectors selected by a ConnectorResolver are not managed by anyone else:
// the invoker starts them before the call and stops them after it.
type Invoker struct {
	selector    Selector
	ephemeral   bool
	maxAttempts int
	slowCall    time.Duration
}

func NewInvoker(selector Selector, failover *v1alpha1.Failover) *Invoker {
	_, ephemeral := selector.(*ConnectorResolver)
	i := &Invoker{selector: selector, ephemeral: ephemeral, maxAttempts: 1}
	if failover != nil && failover.Enabled {
		if failover.MaxAttempts > 1 {
			i.maxAttempts = failover.MaxAttempts
		}
		i.slowCall = failover.SlowCallDuration.Duration
	}
	return i
}

func (i *Invoker) ID() string {
	return InvokerID
}

// Invoke interrupts with 404 when no endpoint is available and fails with the
// last connector error once every attempt failed.
func (i *Invoker) Invoke(ctx context.Context, ec *execution.Context) execution.Result {
	logger := log.FromContext(ctx)
	var lastErr error
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		c := i.selector.Select(ctx, ec)
		if c == nil {
			if lastErr != nil {
				break
			}
			return execution.InterruptWith(execution.NewFailure(http.StatusNotFound, execution.KeyNoEndpoint, "No endpoint available"))
		}
		ec.SetInternalAttribute(execution.InternalAttrEndpointConnector, c)

		err := i.connect(ctx, ec, c)
		if err == nil {
			return execution.Continue()
		}
		lastErr = err
		logger.V(logutil.DEBUG).Info("Endpoint invocation failed", "connector", c.ID(), "attempt", attempt, "maxAttempts", i.maxAttempts, "err", err.Error())
		if ctx.Err() != nil {
			break
		}
	}
	return execution.Fail(fmt.Errorf("endpoint invocation failed: %w", lastErr))
}

func (i *Invoker) connect(ctx context.Context, ec *execution.Context, c connector.EndpointConnector) (err error) {
	if i.slowCall > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.slowCall)
		defer cancel()
	}
	ctx, span := tracing.StartSpan(ctx, "endpoint "+c.ID())
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("endpoint connector panicked: %v", r)
		}
		tracing.EndSpan(span, err)
	}()
	if i.ephemeral {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("failed to start endpoint connector %s: %w", c.ID(), err)
		}
		defer release(context.WithoutCancel(ctx), c)
	}
	return c.Connect(ctx, ec)
}

func release(ctx context.Context, c connector.EndpointConnector) {
	err := multierr.Append(safeCall(func() error { return c.PreStop(ctx) }), safeCall(func() error { return c.Stop(ctx) }))
	if err != nil {
		log.FromContext(ctx).Error(err, "Unable to stop request scoped endpoint connector", "connector", c.ID())
	}
}

// Start starts the selector when it has a lifecycle.
func (i *Invoker) Start(ctx context.Context) error {
	if l, ok := i.selector.(lifecycle); ok {
		return l.Start(ctx)
	}
	return nil
}

// PreStop forwards to the selector when it has a lifecycle.
func (i *Invoker) PreStop(ctx context.Context) error {
	if l, ok := i.selector.(lifecycle); ok {
		return l.PreStop(ctx)
	}
	return nil
}

// Stop forwards to the selector when it has a lifecycle.
func (i *Invoker) Stop(ctx context.Context) error {
	if l, ok := i.selector.(lifecycle); ok {
		return l.Stop(ctx)
	}
	return nil
}
