// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"context"
	"fmt"
	"strings"

	"github.com/pbinitiative/zenpvm/internal/config"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// exporterOptions turns the configured endpoint into otlp http options. An
// https scheme always wins over the insecure flag.
func exporterOptions(conf config.Tracing) []otlptracehttp.Option {
	endpoint := conf.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if !secure && conf.Insecure.Bool() {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

func sampler(ratio float64) trace.Sampler {
	if ratio >= 1 {
		return trace.ParentBased(trace.AlwaysSample())
	}
	return trace.ParentBased(trace.TraceIDRatioBased(ratio))
}

func setupTraceProvider(conf config.Tracing) (*trace.TracerProvider, error) {
	ctx := context.Background()
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(exporterOptions(conf)...))
	if err != nil {
		return nil, fmt.Errorf("creating span exporter for %s: %w", conf.Endpoint, err)
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(conf.Name),
			semconv.ServiceNamespace("zenpvm"),
		),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing resource: %w", err)
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithSampler(sampler(conf.SampleRatio)),
		trace.WithResource(res),
	), nil
}
