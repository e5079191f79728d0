package observe

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope for every tutor span.
	scope = "github.com/MrWong99/misssmart"

	defaultServiceName = "misssmart"
)

// Span and resource attribute keys shared by the tutor packages.
const (
	ClassroomKey = attribute.Key("tutor.classroom_id")
	GradeKey     = attribute.Key("tutor.grade")
	UnitKey      = attribute.Key("tutor.unit_id")
	ModeKey      = attribute.Key("tutor.mode")
	VoiceKey     = attribute.Key("tts.voice")
	AudioRateKey = attribute.Key("tutor.audio.output_rate")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "misssmart".
	ServiceName string

	ServiceVersion string

	// InstanceID identifies this process among replicas. A random UUID is
	// used when empty.
	InstanceID string

	// OutputRate is the playback sample rate advertised on the resource.
	// Zero omits the attribute.
	OutputRate int

	// TraceExporter receives finished spans. When nil spans are sampled
	// and recorded but never leave the process.
	TraceExporter sdktrace.SpanExporter
}

// newResource describes this tutor process. It is built from one semconv
// schema only, since merging with resource.Default fails when the SDK's
// schema version differs.
func newResource(cfg ProviderConfig) *resource.Resource {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceInstanceID(cfg.InstanceID),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.OutputRate > 0 {
		attrs = append(attrs, AudioRateKey.Int(cfg.OutputRate))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// InitProvider registers global meter and tracer providers. Metrics go
// through the Prometheus exporter so /metrics keeps serving them.
//
// The returned function flushes and stops both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res := newResource(cfg)

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(promExp))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// ── Classroom context ───────────────────────────────────────────────────────

type classroomCtxKey struct{}

// WithClassroom tags ctx with the classroom it serves. Spans started and
// loggers derived from the result carry the ID.
func WithClassroom(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, classroomCtxKey{}, id)
}

// ClassroomID returns the classroom ctx was tagged with, or "".
func ClassroomID(ctx context.Context) string {
	id, _ := ctx.Value(classroomCtxKey{}).(string)
	return id
}

// ── Spans ───────────────────────────────────────────────────────────────────

func tracer() trace.Tracer { return otel.Tracer(scope) }

// StartSpan starts a span on the global tracer provider. The classroom ID
// from ctx is added to attrs. The caller must End the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if id := ClassroomID(ctx); id != "" {
		attrs = append(attrs, ClassroomKey.String(id))
	}
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// CorrelationID returns the trace ID of the span in ctx, or "". Parents
// quote it when reporting a problem with a lesson.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with classroom_id, trace_id and span_id
// taken from ctx when present.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := ClassroomID(ctx); id != "" {
		l = l.With(slog.String("classroom_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
