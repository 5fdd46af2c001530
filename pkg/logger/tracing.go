/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	otelTrace "go.opentelemetry.io/otel/trace"
)

// TracingConfig configures InitializeTracing.
type TracingConfig struct {
	OTel   *OTelConfig
	Logger Logger
	// Sampler overrides the default parent-based always-on sampler.
	Sampler trace.Sampler
}

// InitializeTracing installs the global TracerProvider for poll cycle spans. Spans go to the
// collector when OTel export is configured and are otherwise recorded and dropped, which keeps
// trace IDs available for log correlation. Callers should defer tp.Shutdown.
func InitializeTracing(ctx context.Context, config TracingConfig) (*trace.TracerProvider, error) {
	res, err := newResource(ctx, config.OTel)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenTelemetry resource: %w", err)
	}

	sampler := config.Sampler
	if sampler == nil {
		sampler = trace.ParentBased(trace.AlwaysSample())
	}

	opts := []trace.TracerProviderOption{trace.WithResource(res), trace.WithSampler(sampler)}

	exporting := config.OTel.exporting()
	if exporting {
		exporter, err := newTraceExporter(ctx, config.OTel)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}

		opts = append(opts, trace.WithBatcher(exporter))
	}

	tp := trace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if config.Logger != nil {
		config.Logger.Debug().Bool("exporting", exporting).Msg("Initialized OpenTelemetry tracing")
	}

	return tp, nil
}

// GetTracer returns a tracer from the global provider.
func GetTracer(name string) otelTrace.Tracer {
	return otel.Tracer(name)
}

func newTraceExporter(ctx context.Context, config *OTelConfig) (trace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}

	creds, err := config.transportCredentials()
	if err != nil {
		return nil, err
	}

	switch {
	case config.Insecure:
		opts = append(opts, otlptracegrpc.WithInsecure())
	case creds != nil:
		opts = append(opts, otlptracegrpc.WithTLSCredentials(creds))
	}

	if len(config.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(config.Headers))
	}

	return otlptracegrpc.New(ctx, opts...)
}
