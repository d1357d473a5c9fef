// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exports the server's OpenTelemetry traces over OTLP.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/stacklok/toolhive-idp/pkg/versions"
)

// DefaultServiceName is reported when Config.ServiceName is empty.
const DefaultServiceName = "thv-idp"

// DefaultSamplingRate samples 5% of traces.
const DefaultSamplingRate = 0.05

// Config holds the OTLP tracing configuration. Tracing is off without an endpoint.
type Config struct {
	// Endpoint is the OTLP/HTTP collector as host:port.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"`

	ServiceName string `json:"service_name,omitempty" yaml:"service_name,omitempty" mapstructure:"service_name"`

	// SamplingRate is the trace sampling rate (0.0-1.0).
	SamplingRate float64 `json:"sampling_rate,omitempty" yaml:"sampling_rate,omitempty" mapstructure:"sampling_rate"`

	// Headers are sent with every export, typically for authentication.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`

	// Insecure uses HTTP instead of HTTPS.
	Insecure bool `json:"insecure,omitempty" yaml:"insecure,omitempty" mapstructure:"insecure"`
}

// Validate checks the sampling rate.
func (c *Config) Validate() error {
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0.0 and 1.0, got %v", c.SamplingRate)
	}
	return nil
}

// ShutdownFunc flushes and stops a tracer provider.
type ShutdownFunc func(context.Context) error

// NewTracerProvider returns an OTLP tracer provider for cfg, or a no-op
// provider when cfg is nil or has no endpoint.
func NewTracerProvider(ctx context.Context, cfg *Config) (trace.TracerProvider, ShutdownFunc, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return tracenoop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	samplingRate := cfg.SamplingRate
	if samplingRate == 0 {
		samplingRate = DefaultSamplingRate
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(versions.GetVersionInfo().Version),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createTraceExporter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplingRate))),
	)
	return provider, provider.Shutdown, nil
}

func createTraceExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return exporter, nil
}

// Setup installs the tracer provider for cfg and W3C trace context
// propagation as the process-wide defaults.
func Setup(ctx context.Context, cfg *Config) (ShutdownFunc, error) {
	provider, shutdown, err := NewTracerProvider(ctx, cfg)
	if err != nil {
		return nil, errors.Join(errors.New("failed to set up tracing"), err)
	}
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return shutdown, nil
}
