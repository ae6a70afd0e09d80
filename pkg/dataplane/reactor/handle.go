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
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/api/v1alpha1"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/metrics"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/node"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/processor"
	errutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/error"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
	"sigs.k8s.io/gateway-api-dataplane/pkg/tracing"
)

type stage struct {
	name string
	run  func(ctx context.Context, ec *execution.Context) execution.Result
}

// Handle runs a request through the pipeline of the api. The outcome is
// written to the response of ec, which is always ended on return.
func (r *Reactor) Handle(ctx context.Context, ec *execution.Context) {
	metrics.SetPendingRequests(r.api.ID, r.pending.Add(1))
	defer func() {
		metrics.SetPendingRequests(r.api.ID, r.pending.Add(-1))
	}()

	if r.state.LifecycleState() != node.Started {
		ec.SetFailure(execution.NewFailure(http.StatusServiceUnavailable, execution.KeyServiceUnavailable, ""))
		(&processor.FailureProcessor{}).Execute(ctx, ec)
		r.end(ctx, ec)
		return
	}

	r.prepare(ec)
	logger := logutil.ApiLogger(ctx, r.api.ID, r.api.Name).WithValues("requestId", ec.Request().ID)
	ctx = log.IntoContext(ctx, logger)
	if r.opts.Tracing {
		spanCtx, span := tracing.StartRequestSpan(ctx, r.api.ID, ec.Request().ID)
		ctx = spanCtx
		defer func() {
			var err error
			if f := ec.Failure(); f != nil && f.StatusCode >= http.StatusInternalServerError {
				err = f
			}
			tracing.EndSpan(span, err)
		}()
	}

	requestCtx := ctx
	if r.opts.RequestTimeout > 0 {
		timeout := r.opts.RequestTimeout - time.Since(ec.StartedAt())
		if timeout < r.opts.RequestTimeoutGraceDelay {
			timeout = r.opts.RequestTimeoutGraceDelay
		}
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	entrypoint, result := r.handleRequest(requestCtx, ec)
	r.handleResponse(requestCtx, ec, entrypoint, result)
	r.end(ctx, ec)
}

func (r *Reactor) prepare(ec *execution.Context) {
	req := ec.Request()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ec.SetAttribute(execution.AttrContextPath, req.ContextPath)
	ec.SetAttribute(execution.AttrApi, r.api.ID)
	ec.SetAttribute(execution.AttrApiName, r.api.Name)
	ec.SetAttribute(execution.AttrApiDeployedAt, r.api.DeployedAt.Time)
	ec.SetAttribute(execution.AttrOrganization, r.api.OrganizationID)
	ec.SetAttribute(execution.AttrEnvironment, r.api.EnvironmentID)
	ec.SetAttribute(execution.AttrRequestID, req.ID)
	ec.SetInternalAttribute(execution.InternalAttrApi, r.api)
	ec.SetInternalAttribute(execution.InternalAttrInvoker, r.invoker)
}

func (r *Reactor) isMessageApi() bool {
	return r.api.EffectiveType() == v1alpha1.ApiTypeMessage
}

func (r *Reactor) flow(chain flowChain, phase execution.Phase) func(context.Context, *execution.Context) execution.Result {
	return func(ctx context.Context, ec *execution.Context) execution.Result {
		return chain.Execute(ctx, ec, phase)
	}
}

func (r *Reactor) handleRequest(ctx context.Context, ec *execution.Context) (connector.EntrypointConnector, execution.Result) {
	entrypoint := r.entrypoints.Resolve(ec)
	if entrypoint == nil {
		return nil, execution.InterruptWith(execution.NewFailure(http.StatusNotFound, execution.KeyNoEntrypoint,
			"No entrypoint matches the incoming request"))
	}

	stages := []stage{
		{name: "platform-request", run: r.flow(r.platformFlows, execution.PhaseRequest)},
		{name: "security", run: r.security.Execute},
		{name: "pre-processors", run: r.pre.Execute},
		{name: "entrypoint-request", run: func(ctx context.Context, ec *execution.Context) execution.Result {
			return fromError(entrypoint.HandleRequest(ctx, ec))
		}},
	}
	if r.isMessageApi() {
		stages = append(stages,
			stage{name: "platform-message-request", run: r.flow(r.platformFlows, execution.PhaseMessageRequest)},
			stage{name: "plan-request", run: r.flow(r.planFlows, execution.PhaseRequest)},
			stage{name: "plan-message-request", run: r.flow(r.planFlows, execution.PhaseMessageRequest)},
			stage{name: "api-request", run: r.flow(r.apiFlows, execution.PhaseRequest)},
			stage{name: "api-message-request", run: r.flow(r.apiFlows, execution.PhaseMessageRequest)},
		)
	} else {
		stages = append(stages,
			stage{name: "plan-request", run: r.flow(r.planFlows, execution.PhaseRequest)},
			stage{name: "api-request", run: r.flow(r.apiFlows, execution.PhaseRequest)},
		)
	}
	stages = append(stages, stage{name: "invoker", run: r.invoke})

	return entrypoint, r.runStages(ctx, ec, stages)
}

func (r *Reactor) invoke(ctx context.Context, ec *execution.Context) execution.Result {
	if skip, _ := ec.InternalAttribute(execution.InternalAttrInvokerSkip).(bool); skip {
		log.FromContext(ctx).V(logutil.DEBUG).Info("Invoker skipped")
		return execution.Continue()
	}
	invoker, ok := ec.InternalAttribute(execution.InternalAttrInvoker).(execution.Invoker)
	if !ok || invoker == nil {
		invoker = r.invoker
	}
	return invoker.Invoke(ctx, ec)
}

func (r *Reactor) handleResponse(ctx context.Context, ec *execution.Context, entrypoint connector.EntrypointConnector, result execution.Result) {
	if result.IsContinue() {
		stages := []stage{{name: "plan-response", run: r.flow(r.planFlows, execution.PhaseResponse)}}
		if r.isMessageApi() {
			stages = append(stages, stage{name: "plan-message-response", run: r.flow(r.planFlows, execution.PhaseMessageResponse)})
		}
		stages = append(stages, stage{name: "api-response", run: r.flow(r.apiFlows, execution.PhaseResponse)})
		if r.isMessageApi() {
			stages = append(stages, stage{name: "api-message-response", run: r.flow(r.apiFlows, execution.PhaseMessageResponse)})
		}
		result = r.runStages(ctx, ec, stages)
	}

	// The rest of the response always runs, with a fresh budget when the request timed out.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.opts.RequestTimeoutGraceDelay)
		defer cancel()
	}

	if result.IsInterrupted() {
		r.recordInterruption(ctx, ec, result)
		r.processFailure(ctx, ec)
	}

	platform := []stage{{name: "platform-response", run: r.flow(r.platformFlows, execution.PhaseResponse)}}
	if r.isMessageApi() {
		platform = append(platform, stage{name: "platform-message-response", run: r.flow(r.platformFlows, execution.PhaseMessageResponse)})
	}
	if platformResult := r.runStages(ctx, ec, platform); platformResult.IsInterrupted() && !result.IsInterrupted() {
		result = platformResult
		r.recordInterruption(ctx, ec, result)
		r.processFailure(ctx, ec)
	}

	if ec.Failure() == nil {
		var closing []stage
		if !result.IsInterrupted() && r.isMessageApi() {
			closing = append(closing, stage{name: "message-processors", run: r.messages.Execute})
		}
		closing = append(closing, stage{name: "post-processors", run: r.post.Execute})
		if closingResult := r.runStages(ctx, ec, closing); closingResult.IsInterrupted() {
			r.recordInterruption(ctx, ec, closingResult)
			r.processFailure(ctx, ec)
		}
	}

	if entrypoint != nil {
		if err := callSafely(func() error { return entrypoint.HandleResponse(ctx, ec) }); err != nil {
			log.FromContext(ctx).Error(err, "Entrypoint failed to handle the response", "entrypoint", entrypoint.ID())
		}
	}
}

// processFailure runs the error processors, which write the failure recorded
// on ec to the response.
func (r *Reactor) processFailure(ctx context.Context, ec *execution.Context) {
	if ec.Failure() == nil {
		return
	}
	if errResult := execution.Recover(func() execution.Result { return r.errors.Execute(ctx, ec) }); errResult.Err() != nil {
		log.FromContext(ctx).Error(errResult.Err(), "Error processors failed")
	}
}

// runStages runs stages in order until one interrupts the request. A stage
// running past the request deadline interrupts it with a timeout.
func (r *Reactor) runStages(ctx context.Context, ec *execution.Context, stages []stage) execution.Result {
	logger := log.FromContext(ctx)
	for _, s := range stages {
		if ctx.Err() != nil {
			return r.timeout(ctx)
		}
		result := execution.Recover(func() execution.Result { return s.run(ctx, ec) })
		if result.IsContinue() {
			continue
		}
		if result.Err() != nil && ctx.Err() != nil {
			return r.timeout(ctx)
		}
		if failure := result.Failure(); failure != nil {
			logger.V(logutil.DEBUG).Info("Request interrupted", "stage", s.name, "status", failure.StatusCode, "key", failure.Key)
		} else {
			logger.V(logutil.DEBUG).Info("Request interrupted", "stage", s.name)
		}
		return result
	}
	return execution.Continue()
}

func (r *Reactor) timeout(ctx context.Context) execution.Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return execution.InterruptWith(execution.NewFailure(http.StatusGatewayTimeout, execution.KeyRequestTimeout, "Request timeout"))
	}
	return execution.Fail(fmt.Errorf("request aborted: %w", ctx.Err()))
}

// recordInterruption records the failure of an interrupted request. Errors
// carrying a canonical code are served with its status, others become an
// internal server error.
func (r *Reactor) recordInterruption(ctx context.Context, ec *execution.Context, result execution.Result) {
	if failure := result.Failure(); failure != nil {
		ec.SetFailure(failure)
		return
	}
	if err := result.Err(); err != nil {
		if code := errutil.CanonicalCode(err); code != errutil.Unknown {
			log.FromContext(ctx).V(logutil.DEBUG).Info("Request failed", "code", code, "err", err.Error())
			ec.SetFailure(execution.NewFailure(errutil.HTTPStatus(code), code, ""))
			return
		}
		log.FromContext(ctx).Error(err, "Unexpected error while handling the request")
		ec.SetFailure(execution.NewFailure(http.StatusInternalServerError, execution.KeyInternalError, ""))
	}
}

func (r *Reactor) end(ctx context.Context, ec *execution.Context) {
	resp := ec.Response()
	resp.End()
	if resp.Reason == "" {
		resp.Reason = http.StatusText(resp.Status)
	}
	elapsed := time.Since(ec.StartedAt())
	metrics.RecordRequest(r.api.ID, resp.Status, elapsed)
	if failure := ec.Failure(); failure != nil {
		metrics.RecordInterruption(r.api.ID, failure.Key)
	}
	log.FromContext(ctx).V(logutil.VERBOSE).Info("Request handled", "status", resp.Status, "elapsed", elapsed)
}

// fromError converts an error returned by a connector into a result.
func fromError(err error) execution.Result {
	if err == nil {
		return execution.Continue()
	}
	var failure *execution.Failure
	if errors.As(err, &failure) {
		return execution.InterruptWith(failure)
	}
	return execution.Fail(err)
}
