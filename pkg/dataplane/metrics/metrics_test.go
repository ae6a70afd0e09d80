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

package metrics

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"k8s.io/component-base/metrics/legacyregistry"
	"k8s.io/component-base/metrics/testutil"
)

func compareWithFile(t *testing.T, file string, metricNames ...string) {
	t.Helper()
	want, err := os.Open(file)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := want.Close(); err != nil {
			t.Error(err)
		}
	}()
	if err := testutil.GatherAndCompare(legacyregistry.DefaultGatherer, want, metricNames...); err != nil {
		t.Error(err)
	}
}

func TestRecordRequest(t *testing.T) {
	type request struct {
		api     string
		status  int
		elapsed time.Duration
	}
	reqs := []request{
		{api: "echo", status: 200, elapsed: 10 * time.Millisecond},
		{api: "echo", status: 200, elapsed: 1600 * time.Millisecond},
		{api: "echo", status: 404, elapsed: time.Millisecond},
		{api: "orders", status: 504, elapsed: 30 * time.Second},
	}
	Register()
	for _, req := range reqs {
		RecordRequest(req.api, req.status, req.elapsed)
	}
	compareWithFile(t, "testdata/request_total_metric", RequestTotalMetric)
}

func TestRecordEndpointStartError(t *testing.T) {
	Register()
	RecordEndpointStartError("echo", "kafka")
	RecordEndpointStartError("echo", "kafka")
	RecordEndpointStartError("orders", "http-proxy")
	compareWithFile(t, "testdata/endpoint_start_errors_metric", EndpointStartErrorsMetric)
}

func TestPendingRequests(t *testing.T) {
	Register()
	SetPendingRequests("echo", 3)
	SetPendingRequests("gone", 1)
	DeletePendingRequests("gone")
	compareWithFile(t, "testdata/pending_requests_metric", PendingRequestsMetric)
}

func TestRecordInterruptionAndDeployment(t *testing.T) {
	Register()
	RecordInterruption("echo", "")
	RecordInterruption("echo", "REQUEST_TIMEOUT")
	RecordDeployment("deploy", nil)
	RecordDeployment("deploy", errors.New("boom"))

	want := `
# HELP api_request_interruptions_total [ALPHA] Counter of interrupted api requests broken out for each api and failure key.
# TYPE api_request_interruptions_total counter
api_request_interruptions_total{api="echo",key="REQUEST_TIMEOUT"} 1
api_request_interruptions_total{api="echo",key="none"} 1
# HELP api_deployments_total [ALPHA] Counter of api deployments and undeployments broken out for each outcome.
# TYPE api_deployments_total counter
api_deployments_total{operation="deploy",outcome="error"} 1
api_deployments_total{operation="deploy",outcome="success"} 1
`
	if err := testutil.GatherAndCompare(legacyregistry.DefaultGatherer, strings.NewReader(want),
		RequestInterruptionsMetric, DeploymentsTotalMetric); err != nil {
		t.Error(err)
	}
}
