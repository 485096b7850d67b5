// Package tracer installs the OpenTelemetry tracer provider and offers the
// span helpers used around routing decisions and phase executions.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"agentroute/internal/infra/config"
)

const serviceName = "agentroute"

// Setup installs the global TracerProvider described by cfg and returns its
// shutdown function. Disabled tracing and the "noop" exporter install a noop
// provider.
func Setup(ctx context.Context, cfg config.TracerConfig) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.Exporter == "" || cfg.Exporter == "noop" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, closeOutput, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), closeOutput())
	}, nil
}

func newExporter(cfg config.TracerConfig) (sdktrace.SpanExporter, func() error, error) {
	noClose := func() error { return nil }
	switch cfg.Exporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return exp, noClose, nil
	case "file":
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open span output: %w", err)
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("create file exporter: %w", err)
		}
		return exp, f.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a named span on the agentroute tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(serviceName).Start(ctx, name, opts...)
}

// End marks the span failed when err is non-nil, OK otherwise, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// WorkflowIDAttr tags a span with its workflow.
func WorkflowIDAttr(id string) attribute.KeyValue {
	return attribute.String("workflow.id", id)
}

// WorkflowAttrs tags a span with the workflow and phase being driven.
func WorkflowAttrs(workflowID string, taskIndex int, taskTitle string) []attribute.KeyValue {
	return []attribute.KeyValue{
		WorkflowIDAttr(workflowID),
		attribute.Int("workflow.task_index", taskIndex),
		attribute.String("workflow.task", taskTitle),
	}
}

// RoutingAttrs tags a span with the routing request.
func RoutingAttrs(strategy, priority, complexity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("routing.strategy", strategy),
		attribute.String("routing.priority", priority),
		attribute.String("routing.complexity", complexity),
	}
}

// AgentAttr names the agent a span ended up on.
func AgentAttr(name string) attribute.KeyValue {
	return attribute.String("agent.name", name)
}

// ScoreAttr records a float score such as a routing or quality score.
func ScoreAttr(key string, v float64) attribute.KeyValue {
	return attribute.Float64(key, v)
}
