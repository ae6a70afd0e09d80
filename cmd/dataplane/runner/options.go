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
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/reactor"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/server"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/util/logging"
)

// Options contains configuration values necessary to create and run the data plane.
type Options struct {
	//
	// Serving.
	//
	HTTPPort            int           // Port the apis are served on.
	MaxRequestBodyBytes int64         // Largest request body accepted.
	ShutdownTimeout     time.Duration // Time given to in-flight requests once the process is asked to stop.
	//
	// Definitions.
	//
	DefinitionsFile  string // Path to the gateway definitions file.
	WatchDefinitions bool   // Redeploys apis when the definitions file changes.
	//
	// Reactors.
	//
	PendingRequestsTimeout      time.Duration // Bound of the wait for in-flight requests when an api stops.
	PendingRequestsPollInterval time.Duration // Pace of the in-flight requests check when an api stops.
	RequestTimeout              time.Duration // Bound of the handling of a request, zero disables it.
	RequestTimeoutGraceDelay    time.Duration // Minimum time given to a request and budget of the response flows after a timeout.
	Tenant                      string        // Gateway tenant, endpoints bound to other tenants are not deployed.
	DirectEndpointResolution    bool          // Resolves endpoint connectors per request.
	//
	// Diagnostics.
	//
	LogVerbosity   int  // Number for the log level verbosity.
	Development    bool // Human friendly logs.
	Tracing        bool // Enables emitting traces.
	MetricsPort    int  // The metrics port exposed by the data plane.
	GRPCHealthPort int  // The port used for gRPC liveness and readiness probes.
}

// NewOptions returns a new Options struct initialized with the default values.
func NewOptions() *Options {
	defaults := reactor.DefaultOptions()
	return &Options{
		HTTPPort:                    8082,
		MaxRequestBodyBytes:         server.DefaultMaxRequestBodyBytes,
		ShutdownTimeout:             30 * time.Second,
		WatchDefinitions:            true,
		PendingRequestsTimeout:      defaults.PendingRequestsTimeout,
		PendingRequestsPollInterval: defaults.PendingRequestsPollInterval,
		RequestTimeoutGraceDelay:    defaults.RequestTimeoutGraceDelay,
		LogVerbosity:                logging.DEFAULT,
		MetricsPort:                 9090,
		GRPCHealthPort:              9003,
	}
}

func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}

	fs.IntVar(&opts.HTTPPort, "http-port", opts.HTTPPort, "Port the apis are served on.")
	fs.Int64Var(&opts.MaxRequestBodyBytes, "max-request-body-bytes", opts.MaxRequestBodyBytes,
		"Largest request body accepted, larger ones are answered with 413.")
	fs.DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", opts.ShutdownTimeout,
		"Time given to in-flight requests once the process is asked to stop.")
	fs.StringVar(&opts.DefinitionsFile, "definitions-file", opts.DefinitionsFile, "Path to the gateway definitions file.")
	fs.BoolVar(&opts.WatchDefinitions, "watch-definitions", opts.WatchDefinitions,
		"Redeploys the apis when the definitions file changes.")
	fs.DurationVar(&opts.PendingRequestsTimeout, "pending-requests-timeout", opts.PendingRequestsTimeout,
		"Bound of the wait for in-flight requests when an api is stopped.")
	fs.DurationVar(&opts.PendingRequestsPollInterval, "pending-requests-poll-interval", opts.PendingRequestsPollInterval,
		"Pace at which in-flight requests are checked when an api is stopped.")
	fs.DurationVar(&opts.RequestTimeout, "request-timeout", opts.RequestTimeout,
		"Bound of the handling of a request. Zero disables it.")
	fs.DurationVar(&opts.RequestTimeoutGraceDelay, "request-timeout-grace-delay", opts.RequestTimeoutGraceDelay,
		"Minimum time given to a request, and budget of the response flows of a request that timed out.")
	fs.StringVar(&opts.Tenant, "tenant", opts.Tenant, "Gateway tenant. Endpoints bound to other tenants are not deployed.")
	fs.BoolVar(&opts.DirectEndpointResolution, "direct-endpoint-resolution", opts.DirectEndpointResolution,
		"Resolves endpoint connectors per request instead of selecting among managed endpoints.")
	fs.IntVar(&opts.LogVerbosity, "v", opts.LogVerbosity, "Number for the log level verbosity.")
	fs.BoolVar(&opts.Development, "development", opts.Development, "Enables human friendly logs.")
	fs.BoolVar(&opts.Tracing, "tracing", opts.Tracing, "Enables emitting traces.")
	fs.IntVar(&opts.MetricsPort, "metrics-port", opts.MetricsPort, "The metrics port exposed by the data plane.")
	fs.IntVar(&opts.GRPCHealthPort, "grpc-health-port", opts.GRPCHealthPort,
		"The port used for gRPC liveness and readiness probes.")
}

func (opts *Options) Complete() error {
	if opts.DefinitionsFile == "" {
		return nil
	}
	path, err := filepath.Abs(opts.DefinitionsFile)
	if err != nil {
		return fmt.Errorf("invalid definitions file %q: %w", opts.DefinitionsFile, err)
	}
	opts.DefinitionsFile = path
	return nil
}

func (opts *Options) Validate() error {
	var errs []error
	if opts.DefinitionsFile == "" {
		errs = append(errs, errors.New("--definitions-file is required"))
	}
	for name, port := range map[string]int{
		"http-port":        opts.HTTPPort,
		"metrics-port":     opts.MetricsPort,
		"grpc-health-port": opts.GRPCHealthPort,
	} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("--%s must be within [0, 65535], got %d", name, port))
		}
	}
	if opts.MaxRequestBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("--max-request-body-bytes must be positive, got %d", opts.MaxRequestBodyBytes))
	}
	if opts.PendingRequestsPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("--pending-requests-poll-interval must be positive, got %s", opts.PendingRequestsPollInterval))
	}
	if opts.PendingRequestsTimeout < 0 {
		errs = append(errs, fmt.Errorf("--pending-requests-timeout must not be negative, got %s", opts.PendingRequestsTimeout))
	}
	if opts.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--shutdown-timeout must be positive, got %s", opts.ShutdownTimeout))
	}
	return errors.Join(errs...)
}

func (opts *Options) reactorOptions() reactor.Options {
	return reactor.Options{
		PendingRequestsTimeout:      opts.PendingRequestsTimeout,
		PendingRequestsPollInterval: opts.PendingRequestsPollInterval,
		RequestTimeout:              opts.RequestTimeout,
		RequestTimeoutGraceDelay:    opts.RequestTimeoutGraceDelay,
		Tracing:                     opts.Tracing,
		Tenant:                      opts.Tenant,
		DirectEndpointResolution:    opts.DirectEndpointResolution,
	}
}
