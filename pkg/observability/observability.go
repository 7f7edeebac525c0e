// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability wraps OpenTelemetry tracing and Prometheus
// metrics into a single Recorder the router consults as a pure
// observer: nothing it does may influence the router's control flow
// (spec is silent on observability, carried as ambient stack per the
// teacher's internal/tracing package).
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Recorder is injected into the router to record run/step spans and
// counters. Every method is safe to call on a nil *Recorder and on one
// built by NewNoop; either serves callers that don't wire observability.
type Recorder struct {
	tracer trace.Tracer

	runsStarted   metric.Int64Counter
	runsCompleted metric.Int64Counter
	runsFailed    metric.Int64Counter
	stepDuration  metric.Float64Histogram

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Option configures New.
type Option func(*providerConfig)

type providerConfig struct {
	serviceName    string
	serviceVersion string
	traceWriter    io.Writer
}

// WithServiceName sets the resource's service.name attribute.
func WithServiceName(name string) Option {
	return func(c *providerConfig) { c.serviceName = name }
}

// WithServiceVersion sets the resource's service.version attribute.
func WithServiceVersion(version string) Option {
	return func(c *providerConfig) { c.serviceVersion = version }
}

// WithTraceWriter overrides where completed spans are printed. Defaults
// to os.Stderr, keeping run/step traces separate from a CLI's JSON
// response on stdout.
func WithTraceWriter(w io.Writer) Option {
	return func(c *providerConfig) { c.traceWriter = w }
}

// New builds a Recorder backed by a real OTel SDK tracer provider and a
// Prometheus-backed meter provider. Call Shutdown to flush and release.
func New(opts ...Option) (*Recorder, error) {
	cfg := &providerConfig{serviceName: "nexus-router", serviceVersion: "dev", traceWriter: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("",
			semconv.ServiceName(cfg.serviceName),
			semconv.ServiceVersion(cfg.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: building resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.traceWriter))
	if err != nil {
		return nil, fmt.Errorf("observability: creating trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithSyncer(traceExporter))
	otel.SetTracerProvider(tp)

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("observability: creating prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(promExporter))

	meter := mp.Meter("nexus-router")

	runsStarted, err := meter.Int64Counter("nexus_router.runs_started")
	if err != nil {
		return nil, err
	}
	runsCompleted, err := meter.Int64Counter("nexus_router.runs_completed")
	if err != nil {
		return nil, err
	}
	runsFailed, err := meter.Int64Counter("nexus_router.runs_failed")
	if err != nil {
		return nil, err
	}
	stepDuration, err := meter.Float64Histogram("nexus_router.step_duration_ms")
	if err != nil {
		return nil, err
	}

	return &Recorder{
		tracer:        tp.Tracer("nexus-router"),
		runsStarted:   runsStarted,
		runsCompleted: runsCompleted,
		runsFailed:    runsFailed,
		stepDuration:  stepDuration,
		tp:            tp,
		mp:            mp,
	}, nil
}

// NewNoop builds a Recorder whose tracer and instruments are no-ops,
// for callers (and most tests) that don't need real telemetry.
func NewNoop() *Recorder {
	return &Recorder{tracer: noop.NewTracerProvider().Tracer("noop")}
}

// StartRun opens a span covering the whole run and increments runs_started.
func (r *Recorder) StartRun(ctx context.Context, runID, goal, mode string) (context.Context, trace.Span) {
	if r == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := r.tracer.Start(ctx, "router.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("goal", goal),
		attribute.String("mode", mode),
	))
	if r.runsStarted != nil {
		r.runsStarted.Add(ctx, 1)
	}
	return ctx, span
}

// EndRun closes the run span and increments the terminal counter.
func (r *Recorder) EndRun(ctx context.Context, span trace.Span, status string) {
	if r == nil || span == nil {
		return
	}
	span.SetAttributes(attribute.String("status", status))
	if status == "completed" {
		span.SetStatus(codes.Ok, "")
		if r.runsCompleted != nil {
			r.runsCompleted.Add(ctx, 1)
		}
	} else {
		span.SetStatus(codes.Error, status)
		if r.runsFailed != nil {
			r.runsFailed.Add(ctx, 1)
		}
	}
	span.End()
}

// StartStep opens a span covering one step's dispatch.
func (r *Recorder) StartStep(ctx context.Context, stepID, tool, method string) (context.Context, trace.Span) {
	if r == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return r.tracer.Start(ctx, "router.step", trace.WithAttributes(
		attribute.String("step_id", stepID),
		attribute.String("tool", tool),
		attribute.String("method", method),
	))
}

// EndStep closes a step span, recording its outcome and duration.
func (r *Recorder) EndStep(ctx context.Context, span trace.Span, status string, durationMS int64) {
	if r == nil || span == nil {
		return
	}
	span.SetAttributes(attribute.String("status", status))
	if status == "error" {
		span.SetStatus(codes.Error, "")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	if r.stepDuration != nil {
		r.stepDuration.Record(ctx, float64(durationMS))
	}
}

// Shutdown flushes pending spans/metrics and releases resources. Safe to
// call on a nil Recorder or a noop Recorder.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var err error
	if r.tp != nil {
		err = r.tp.Shutdown(ctx)
	}
	if r.mp != nil {
		if mErr := r.mp.Shutdown(ctx); err == nil {
			err = mErr
		}
	}
	return err
}
