// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/bureau-foundation/eventmesh/messaging"

// tracerFrom returns the package tracer from provider, or from the
// global provider when provider is nil.
func tracerFrom(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer(instrumentationName)
}

func startSpan(ctx context.Context, tracer trace.Tracer, name, binding string) (context.Context, trace.Span) {
	var options []trace.SpanStartOption
	if binding != "" {
		options = append(options, trace.WithAttributes(attribute.String("eventmesh.binding", binding)))
	}
	return tracer.Start(ctx, name, options...)
}

// endSpan records err (if any) and ends span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
