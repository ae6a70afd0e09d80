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
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// RunHTTPServer serves srv on lis until ctx is done, then shuts it down,
// letting in-flight requests complete within shutdownTimeout.
func RunHTTPServer(ctx context.Context, name string, srv *http.Server, lis net.Listener, shutdownTimeout time.Duration) error {
	logger := log.FromContext(ctx).WithValues("server", name, "address", lis.Addr().String())
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server failed: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("%s server did not shut down cleanly: %w", name, err)
	}
	return <-errCh
}

// RunGRPCServer serves srv on lis until ctx is done, then stops it gracefully.
func RunGRPCServer(ctx context.Context, name string, srv *grpc.Server, lis net.Listener) error {
	logger := log.FromContext(ctx).WithValues("server", name, "address", lis.Addr().String())
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("%s server failed: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Server shutting down")
	srv.GracefulStop()
	return <-errCh
}
