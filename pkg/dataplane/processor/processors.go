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

package processor

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/node"
)

const (
	TransactionIDHeader = "X-Gateway-Transaction-Id"
	RequestIDHeader     = "X-Gateway-Request-Id"
)

// TransactionProcessor propagates the transaction id sent by the client, or
// starts a transaction with the request id.
type TransactionProcessor struct{}

func (*TransactionProcessor) ID() string { return "processor-transaction" }

func (*TransactionProcessor) Execute(_ context.Context, ec *execution.Context) execution.Result {
	req := ec.Request()
	transactionID := req.Headers.Get(TransactionIDHeader)
	if transactionID == "" {
		transactionID = req.ID
	}
	ec.SetAttribute(execution.AttrTransactionID, transactionID)
	req.Headers.Set(TransactionIDHeader, transactionID)
	req.Headers.Set(RequestIDHeader, req.ID)
	ec.Response().Headers.Set(TransactionIDHeader, transactionID)
	ec.Response().Headers.Set(RequestIDHeader, req.ID)
	return execution.Continue()
}

// ShutdownProcessor asks clients to close their connection while the node stops.
type ShutdownProcessor struct {
	Node node.Node
}

func (*ShutdownProcessor) ID() string { return "processor-shutdown" }

func (s *ShutdownProcessor) Execute(_ context.Context, ec *execution.Context) execution.Result {
	if s.Node != nil && s.Node.LifecycleState() == node.Stopping {
		ec.Response().Headers.Set("Connection", "close")
	}
	return execution.Continue()
}

type failureBody struct {
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
}

// FailureProcessor writes the failure recorded on the context, a 500 when
// there is none.
type FailureProcessor struct{}

func (*FailureProcessor) ID() string { return "processor-failure" }

func (*FailureProcessor) Execute(_ context.Context, ec *execution.Context) execution.Result {
	failure := ec.Failure()
	if failure == nil {
		failure = execution.NewFailure(http.StatusInternalServerError, execution.KeyInternalError, "")
	}
	resp := ec.Response()
	resp.Status = failure.StatusCode
	resp.Reason = http.StatusText(failure.StatusCode)

	contentType := failure.ContentType
	body := []byte(failure.Message)
	if contentType == "" {
		contentType = "application/json"
		encoded, err := json.Marshal(failureBody{Message: failure.Message, HTTPStatus: failure.StatusCode})
		if err != nil {
			return execution.Fail(err)
		}
		body = encoded
	}
	resp.Headers.Set("Content-Type", contentType)
	resp.Body = body
	resp.Messages = nil
	return execution.Continue()
}

// MessageIDProcessor gives an id to the response messages missing one.
type MessageIDProcessor struct{}

func (*MessageIDProcessor) ID() string { return "processor-message-id" }

func (*MessageIDProcessor) Execute(_ context.Context, ec *execution.Context) execution.Result {
	messages := ec.Response().Messages
	for i := range messages {
		if messages[i].ID == "" {
			messages[i].ID = uuid.NewString()
		}
	}
	return execution.Continue()
}
