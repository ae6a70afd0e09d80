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

package server

import (
	"context"

	healthPb "google.golang.org/grpc/health/grpc_health_v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/node"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

// HealthServer serves while the node is started. A stopping node reports
// NOT_SERVING so that load balancers drain it. Watch is not implemented.
type HealthServer struct {
	healthPb.UnimplementedHealthServer
	node node.Node
}

var _ healthPb.HealthServer = &HealthServer{}

func NewHealthServer(n node.Node) *HealthServer {
	return &HealthServer{node: n}
}

func (s *HealthServer) Check(ctx context.Context, in *healthPb.HealthCheckRequest) (*healthPb.HealthCheckResponse, error) {
	state := s.node.LifecycleState()
	if state != node.Started {
		log.FromContext(ctx).V(logutil.VERBOSE).Info("gRPC health check not serving", "service", in.GetService(), "state", state)
		return &healthPb.HealthCheckResponse{Status: healthPb.HealthCheckResponse_NOT_SERVING}, nil
	}
	log.FromContext(ctx).V(logutil.TRACE).Info("gRPC health check serving", "service", in.GetService())
	return &healthPb.HealthCheckResponse{Status: healthPb.HealthCheckResponse_SERVING}, nil
}
