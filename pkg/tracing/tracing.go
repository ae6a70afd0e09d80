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

// Package tracing provides OpenTelemetry tracing infrastructure for the data plane.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName = "gateway-api-dataplane"

	envOTELTracingEnabled   = "OTEL_TRACING_ENABLED"
	envOTELExporterEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOTELServiceName      = "OTEL_SERVICE_NAME"
	envOTELSamplingRate     = "OTEL_SAMPLING_RATE"

	OperationRequest = "dataplane.request"

	AttrApiID            = "gateway.api.id"
	AttrRequestID        = "gateway.request.id"
	AttrOperationOutcome = "operation.outcome"

	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	SamplingRate     float64
	ServiceName      string
}

// NewConfigFromEnv returns the default configuration overridden by the OTEL_* environment.
func NewConfigFromEnv() *Config {
	config := &Config{
		Enabled:          false,
		ExporterEndpoint: "http://localhost:4317",
		SamplingRate:     0.1,
		ServiceName:      ServiceName,
	}

	if enabled := os.Getenv(envOTELTracingEnabled); enabled != "" {
		if enabledBool, err := strconv.ParseBool(enabled); err == nil {
			config.Enabled = enabledBool
		}
	}

	if endpoint := os.Getenv(envOTELExporterEndpoint); endpoint != "" {
		config.ExporterEndpoint = endpoint
	}

	if serviceName := os.Getenv(envOTELServiceName); serviceName != "" {
		config.ServiceName = serviceName
	}

	if samplingRate := os.Getenv(envOTELSamplingRate); samplingRate != "" {
		if rate, err := strconv.ParseFloat(samplingRate, 64); err == nil {
			config.SamplingRate = rate
		}
	}

	return config
}

type errorHandler struct {
	logger logr.Logger
}

func (h *errorHandler) Handle(err error) {
	h.logger.Error(err, "trace error occurred")
}

// Initialize sets up OpenTelemetry tracing with the given configuration.
// It always sets up context propagation, even if tracing is disabled.
func Initialize(ctx context.Context, config *Config, logger logr.Logger) (func(), error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !config.Enabled {
		// Return a no-op shutdown function if tracing is disabled
		return func() {}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpointURL(config.ExporterEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetErrorHandler(&errorHandler{logger: logger.WithName("trace")})
	logger.Info("OTel trace exporter configured", "endpoint", config.ExporterEndpoint, "serviceName", config.ServiceName)

	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error(err, "failed to shutdown TracerProvider")
		}
	}, nil
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(ServiceName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartRequestSpan starts the root span of a request served by an api.
func StartRequestSpan(ctx context.Context, apiID, requestID string) (context.Context, trace.Span) {
	return StartSpan(ctx, OperationRequest,
		attribute.String(AttrApiID, apiID),
		attribute.String(AttrRequestID, requestID),
	)
}

func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrOperationOutcome, OutcomeError))
}

func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(AttrOperationOutcome, OutcomeSuccess))
}

// EndSpan records the outcome of err on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		SetSpanError(span, err)
	} else {
		SetSpanSuccess(span)
	}
	span.End()
}
