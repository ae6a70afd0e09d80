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

package collectors

import (
	"github.com/prometheus/client_golang/prometheus"
	compbasemetrics "k8s.io/component-base/metrics"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/endpoint"
	metricsutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/metrics"
)

var (
	descEndpointUp = prometheus.NewDesc(
		"api_endpoint_up",
		metricsutil.HelpMsgWithStability("Status of the endpoints managed by each deployed api. Value 1 indicates the endpoint is UP, 0 indicates DOWN.", compbasemetrics.ALPHA),
		[]string{
			"api",
			"group",
			"endpoint",
		}, nil,
	)
)

// EndpointManagerSource lists the endpoint managers of the deployed apis.
type EndpointManagerSource interface {
	EndpointManagers() []*endpoint.Manager
}

type endpointStatusCollector struct {
	source EndpointManagerSource
}

// Check if endpointStatusCollector implements necessary interface
var _ prometheus.Collector = &endpointStatusCollector{}

// NewEndpointStatusCollector implements the prometheus.Collector interface and
// exposes the status of every managed endpoint.
func NewEndpointStatusCollector(source EndpointManagerSource) prometheus.Collector {
	return &endpointStatusCollector{
		source: source,
	}
}

// Describe implements the prometheus.Collector interface.
func (c *endpointStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descEndpointUp
}

// Collect implements the prometheus.Collector interface.
func (c *endpointStatusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, manager := range c.source.EndpointManagers() {
		apiID := manager.Api().ID
		for _, group := range manager.Groups() {
			for _, me := range group.Endpoints() {
				value := 0.0
				if me.Status() == endpoint.StatusUp {
					value = 1.0
				}
				ch <- prometheus.MustNewConstMetric(
					descEndpointUp,
					prometheus.GaugeValue,
					value,
					apiID,
					group.Name(),
					me.Name(),
				)
			}
		}
	}
}
