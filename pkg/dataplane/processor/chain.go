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

// Package processor holds the chains of processors the reactor runs around
// the policy flows of an api.
package processor

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/node"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
	"sigs.k8s.io/gateway-api-dataplane/pkg/tracing"
)

const (
	PreProcessorChainID     = "processor-chain-pre"
	PostProcessorChainID    = "processor-chain-post"
	ErrorProcessorChainID   = "processor-chain-error"
	MessageProcessorChainID = "processor-chain-message"
)

// Processor is an internal, non configurable step of the request pipeline.
type Processor interface {
	ID() string
	Execute(ctx context.Context, ec *execution.Context) execution.Result
}

// Chain runs processors in order, stopping at the first interruption.
type Chain struct {
	id         string
	tracing    bool
	processors []Processor
}

func NewChain(id string, tracingEnabled bool, processors ...Processor) *Chain {
	return &Chain{id: id, tracing: tracingEnabled, processors: processors}
}

func (c *Chain) ID() string {
	return c.id
}

func (c *Chain) Execute(ctx context.Context, ec *execution.Context) (result execution.Result) {
	if c == nil || len(c.processors) == 0 {
		return execution.Continue()
	}
	if c.tracing {
		var span trace.Span
		ctx, span = tracing.StartSpan(ctx, c.id)
		defer func() { tracing.EndSpan(span, result.Err()) }()
	}
	for _, p := range c.processors {
		result = execution.Recover(func() execution.Result { return p.Execute(ctx, ec) })
		if result.IsInterrupted() {
			log.FromContext(ctx).V(logutil.DEBUG).Info("Processor interrupted the chain", "chain", c.id, "processor", p.ID())
			return result
		}
	}
	return execution.Continue()
}

// NewPreProcessorChain runs before the entrypoint handles the request.
func NewPreProcessorChain(tracingEnabled bool) *Chain {
	return NewChain(PreProcessorChainID, tracingEnabled, &TransactionProcessor{})
}

// NewPostProcessorChain runs once the response flows completed.
func NewPostProcessorChain(n node.Node, tracingEnabled bool) *Chain {
	return NewChain(PostProcessorChainID, tracingEnabled, &ShutdownProcessor{Node: n})
}

// NewErrorProcessorChain turns the failure of an interrupted request into its response.
func NewErrorProcessorChain(n node.Node, tracingEnabled bool) *Chain {
	return NewChain(ErrorProcessorChainID, tracingEnabled, &ShutdownProcessor{Node: n}, &FailureProcessor{})
}

// NewMessageProcessorChain runs on the response messages of message apis.
func NewMessageProcessorChain(tracingEnabled bool) *Chain {
	return NewChain(MessageProcessorChainID, tracingEnabled, &MessageIDProcessor{})
}
