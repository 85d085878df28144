// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 初始化 OpenTelemetry tracer
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	// 创建 OTLP exporter
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	// 创建 resource
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	// 创建 tracer provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartAdvanceSpan 开始一次执行推进 span；一次 claim 到落状态为一个 span
func StartAdvanceSpan(ctx context.Context, execID string, taskID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("flow-platform")
	ctx, span := tracer.Start(ctx, "execution.advance",
		trace.WithAttributes(
			attribute.String("execution.id", execID),
			attribute.String("task.id", taskID),
		),
	)
	return ctx, span
}

// StartStepSpan 开始 step 回调 span；仅首次执行有 span，replay 命中 journal 时没有
func StartStepSpan(ctx context.Context, execID string, stepID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("flow-platform")
	ctx, span := tracer.Start(ctx, "step.run",
		trace.WithAttributes(
			attribute.String("execution.id", execID),
			attribute.String("step.id", stepID),
		),
	)
	return ctx, span
}

// StartSignalSpan 开始 signal 投递 span
func StartSignalSpan(ctx context.Context, signalID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("flow-platform")
	ctx, span := tracer.Start(ctx, "signal.deliver",
		trace.WithAttributes(
			attribute.String("signal.id", signalID),
		),
	)
	return ctx, span
}
