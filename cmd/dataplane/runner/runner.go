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

package runner

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthPb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/component-base/metrics/legacyregistry"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/connector"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/deployer"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/endpoint"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/metrics"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/metrics/collectors"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/node"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/policy"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/reactor"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/resource"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/security"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/server"
	logutil "sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
	"sigs.k8s.io/gateway-api-dataplane/pkg/tracing"
)

const (
	gatewayServerName = "gateway"
	metricsServerName = "metrics"
	healthServerName  = "grpc-health"
)

var registerCollectors sync.Once

// deployedManagers feeds the endpoint status collector with the endpoint
// managers of the running deployer, if any.
var deployedManagers managerSource

type managerSource struct {
	deployer atomic.Pointer[deployer.Deployer]
}

func (s *managerSource) EndpointManagers() []*endpoint.Manager {
	if d := s.deployer.Load(); d != nil {
		return d.EndpointManagers()
	}
	return nil
}

// Runner wires the plugin registries, the deployer and the servers of the data plane.
type Runner struct {
	connectors *connector.Registry
	policies   *policy.Registry
	security   *security.Registry
	resources  *resource.Registry

	node node.Lifecycle
}

// NewRunner returns a Runner using the default plugin registries, so that
// out-of-tree plugins registered before Run are available to the apis.
func NewRunner() *Runner {
	return &Runner{
		connectors: connector.DefaultRegistry,
		policies:   policy.DefaultRegistry,
		security:   security.DefaultRegistry,
		resources:  resource.DefaultRegistry,
	}
}

// LifecycleState reports the state of the data plane node.
func (r *Runner) LifecycleState() node.State {
	return r.node.LifecycleState()
}

// Run parses the command line and runs the data plane until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	opts := NewOptions()
	opts.AddFlags(pflag.CommandLine)
	pflag.Parse()
	if err := opts.Complete(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	return r.RunWithOptions(ctx, opts)
}

// RunWithOptions runs the data plane until ctx is done. On stop the node
// enters STOPPING, the servers drain their in-flight requests, then every
// api is undeployed.
func (r *Runner) RunWithOptions(ctx context.Context, opts *Options) error {
	logger := logutil.InitLogging(opts.LogVerbosity, opts.Development)
	ctrl.SetLogger(logger)
	ctx = log.IntoContext(ctx, logger)
	setupLog := logger.WithName("setup")
	setupLog.Info("Data plane starting", "definitions", opts.DefinitionsFile, "tenant", opts.Tenant)

	tracingConfig := tracing.NewConfigFromEnv()
	tracingConfig.Enabled = tracingConfig.Enabled && opts.Tracing
	shutdownTracing, err := tracing.Initialize(ctx, tracingConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracing()

	r.registerInTreePlugins()
	metrics.Register()
	registerCollectors.Do(func() {
		legacyregistry.RawMustRegister(collectors.NewEndpointStatusCollector(&deployedManagers))
	})

	r.node.Set(node.Starting)
	defer r.node.Set(node.Stopped)

	d := deployer.New(reactor.Dependencies{
		Node:       &r.node,
		Connectors: r.connectors,
		Policies:   r.policies,
		Security:   r.security,
		Resources:  r.resources,
	}, opts.reactorOptions())
	deployedManagers.deployer.Store(d)
	defer deployedManagers.deployer.CompareAndSwap(d, nil)

	source := deployer.NewFileSource(opts.DefinitionsFile, d)
	if err := source.Load(ctx); err != nil {
		setupLog.Error(err, "Definitions loaded with errors")
	}

	listeners, err := listen(opts)
	if err != nil {
		return multierr.Append(err, d.Stop(ctx))
	}

	gatewayServer := &http.Server{Handler: server.NewHandler(d, opts.MaxRequestBodyBytes)}
	metricsServer := &http.Server{Handler: metricsHandler()}
	healthServer := grpc.NewServer()
	healthPb.RegisterHealthServer(healthServer, server.NewHealthServer(&r.node))

	r.node.Set(node.Started)
	setupLog.Info("Data plane started", "apis", len(d.Reactors()))

	// serveCtx outlives ctx until the node is STOPPING, so that probes and
	// responses observe the stop before the servers drain.
	serveCtx, stopServing := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServing()
	go func() {
		select {
		case <-ctx.Done():
		case <-serveCtx.Done():
		}
		r.node.Transition(node.Started, node.Stopping)
		stopServing()
	}()

	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return server.RunHTTPServer(gctx, gatewayServerName, gatewayServer, listeners[gatewayServerName], opts.ShutdownTimeout)
	})
	g.Go(func() error {
		return server.RunHTTPServer(gctx, metricsServerName, metricsServer, listeners[metricsServerName], opts.ShutdownTimeout)
	})
	g.Go(func() error {
		return server.RunGRPCServer(gctx, healthServerName, healthServer, listeners[healthServerName])
	})
	if opts.WatchDefinitions {
		g.Go(func() error {
			return source.Run(gctx)
		})
	}

	err = g.Wait()
	r.node.Set(node.Stopping)
	stopServing()
	if err != nil {
		setupLog.Error(err, "Data plane server failed")
	}

	stopCtx := context.WithoutCancel(ctx)
	if stopErr := d.Stop(stopCtx); stopErr != nil {
		err = multierr.Append(err, stopErr)
	}
	setupLog.Info("Data plane stopped")
	return err
}

func listen(opts *Options) (map[string]net.Listener, error) {
	ports := []struct {
		name string
		port int
	}{
		{gatewayServerName, opts.HTTPPort},
		{metricsServerName, opts.MetricsPort},
		{healthServerName, opts.GRPCHealthPort},
	}
	listeners := make(map[string]net.Listener, len(ports))
	for _, p := range ports {
		lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(p.port)))
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return nil, fmt.Errorf("failed to listen on %s port %d: %w", p.name, p.port, err)
		}
		listeners[p.name] = lis
	}
	return listeners, nil
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(legacyregistry.DefaultGatherer, promhttp.HandlerOpts{}))
	return mux
}
