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
	"strconv"
	"sync"
	"time"

	compbasemetrics "k8s.io/component-base/metrics"
	"k8s.io/component-base/metrics/legacyregistry"
)

const (
	ApiComponent = "api"

	RequestTotalMetric         = ApiComponent + "_request_total"
	RequestDurationMetric      = ApiComponent + "_request_duration_seconds"
	PendingRequestsMetric      = ApiComponent + "_pending_requests"
	EndpointStartErrorsMetric  = ApiComponent + "_endpoint_connector_start_errors_total"
	RequestInterruptionsMetric = ApiComponent + "_request_interruptions_total"
	DeploymentsTotalMetric     = ApiComponent + "_deployments_total"
)

var (
	requestCounter = compbasemetrics.NewCounterVec(
		&compbasemetrics.CounterOpts{
			Subsystem:      ApiComponent,
			Name:           "request_total",
			Help:           "Counter of api requests broken out for each api and response status.",
			StabilityLevel: compbasemetrics.ALPHA,
		},
		[]string{"api", "status"},
	)

	requestLatencies = compbasemetrics.NewHistogramVec(
		&compbasemetrics.HistogramOpts{
			Subsystem: ApiComponent,
			Name:      "request_duration_seconds",
			Help:      "Api response latency distribution in seconds for each api.",
			Buckets: []float64{0.005, 0.025, 0.05, 0.1, 0.2, 0.4, 0.6, 0.8, 1.0, 1.25, 1.5, 2, 3,
				4, 5, 6, 8, 10, 15, 20, 30, 45, 60},
			StabilityLevel: compbasemetrics.ALPHA,
		},
		[]string{"api"},
	)

	pendingRequests = compbasemetrics.NewGaugeVec(
		&compbasemetrics.GaugeOpts{
			Subsystem:      ApiComponent,
			Name:           "pending_requests",
			Help:           "Number of requests currently handled by each api.",
			StabilityLevel: compbasemetrics.ALPHA,
		},
		[]string{"api"},
	)

	endpointStartErrors = compbasemetrics.NewCounterVec(
		&compbasemetrics.CounterOpts{
			Subsystem:      ApiComponent,
			Name:           "endpoint_connector_start_errors_total",
			Help:           "Counter of endpoints skipped because their connector could not be created or started.",
			StabilityLevel: compbasemetrics.ALPHA,
		},
		[]string{"api", "type"},
	)

	requestInterruptions = compbasemetrics.NewCounterVec(
		&compbasemetrics.CounterOpts{
			Subsystem:      ApiComponent,
			Name:           "request_interruptions_total",
			Help:           "Counter of interrupted api requests broken out for each api and failure key.",
			StabilityLevel: compbasemetrics.ALPHA,
		},
		[]string{"api", "key"},
	)

	deployments = compbasemetrics.NewCounterVec(
		&compbasemetrics.CounterOpts{
			Subsystem:      ApiComponent,
			Name:           "deployments_total",
			Help:           "Counter of api deployments and undeployments broken out for each outcome.",
			StabilityLevel: compbasemetrics.ALPHA,
		},
		[]string{"operation", "outcome"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		legacyregistry.MustRegister(requestCounter)
		legacyregistry.MustRegister(requestLatencies)
		legacyregistry.MustRegister(pendingRequests)
		legacyregistry.MustRegister(endpointStartErrors)
		legacyregistry.MustRegister(requestInterruptions)
		legacyregistry.MustRegister(deployments)
	})
}

// RecordRequest records a completed request of an api.
func RecordRequest(apiID string, status int, elapsed time.Duration) {
	requestCounter.WithLabelValues(apiID, strconv.Itoa(status)).Inc()
	requestLatencies.WithLabelValues(apiID).Observe(elapsed.Seconds())
}

// SetPendingRequests reports the number of in-flight requests of an api.
func SetPendingRequests(apiID string, pending int64) {
	pendingRequests.WithLabelValues(apiID).Set(float64(pending))
}

// DeletePendingRequests drops the pending gauge of an undeployed api.
func DeletePendingRequests(apiID string) {
	pendingRequests.DeleteLabelValues(apiID)
}

// RecordEndpointStartError records an endpoint skipped at deployment.
func RecordEndpointStartError(apiID, connectorType string) {
	endpointStartErrors.WithLabelValues(apiID, connectorType).Inc()
}

// RecordInterruption records a request interrupted with a failure key.
func RecordInterruption(apiID, key string) {
	if key == "" {
		key = "none"
	}
	requestInterruptions.WithLabelValues(apiID, key).Inc()
}

// RecordDeployment records the outcome of a deploy or undeploy operation.
func RecordDeployment(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	deployments.WithLabelValues(operation, outcome).Inc()
}
