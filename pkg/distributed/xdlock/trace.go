package xdlock

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "xdlock"

const (
	spanNameRun       = "xdlock.Run"
	spanNameRunFenced = "xdlock.RunFenced"
)

// Span 与指标共用的属性名
const (
	attrType     = "xdlock.type"
	attrKey      = "xdlock.key"
	attrOwner    = "xdlock.owner"
	attrToken    = "xdlock.token"
	attrAcquired = "xdlock.acquired"
	attrOwned    = "xdlock.owned"
)

// getTracer 未配置 TracerProvider 时使用全局 provider
func getTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName, trace.WithInstrumentationVersion(instrumentationVersion))
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string, typ Type, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String(attrType, typ.String()),
		attribute.String(attrKey, key),
	))
}

func setSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func setSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
