package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// Common attribute keys for hostprep tracing.
var (
	AttrRunID        = attribute.Key("run.id")
	AttrRunStatus    = attribute.Key("run.status")
	AttrRunDryRun    = attribute.Key("run.dry_run")
	AttrActionID     = attribute.Key("action.id")
	AttrActionStatus = attribute.Key("action.status")
	AttrActionForced = attribute.Key("action.forced")
	AttrErrorCode    = attribute.Key("error.code")
	AttrTargetHost   = attribute.Key("target.host")
)

// Tracer wraps an OpenTelemetry tracer provider.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer creates a tracer. The "none" exporter still produces spans, so
// trace IDs are available to logs, but nothing leaves the process.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion string) (*Tracer, error) {
	return newTracer(cfg, serviceName, serviceVersion, os.Stdout)
}

func newTracer(cfg TracingConfig, serviceName, serviceVersion string, stdout io.Writer) (*Tracer, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(stdout), stdouttrace.WithPrettyPrint())
	case "", "none":
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	rate := cfg.SamplingRate
	if rate == 0 {
		rate = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exporter != nil {
		batch := []sdktrace.BatchSpanProcessorOption{}
		if cfg.ExportTimeout > 0 {
			batch = append(batch, sdktrace.WithExportTimeout(cfg.ExportTimeout))
		}
		opts = append(opts, sdktrace.WithBatcher(exporter, batch...))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
	}, nil
}

// createOTLPExporter creates an OTLP gRPC exporter.
func createOTLPExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace ID of the current span in the context.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// SpanPublisher turns execution events into spans: one per run with a
// child per action. Skipped actions get a zero-length span so the trace
// shows every action the run evaluated.
type SpanPublisher struct {
	tracer *Tracer
	parent context.Context

	mu      sync.Mutex
	runs    map[string]runSpan
	actions map[string]trace.Span
}

type runSpan struct {
	ctx  context.Context
	span trace.Span
}

// NewSpanPublisher creates a publisher whose run spans are children of
// any span in parent.
func NewSpanPublisher(parent context.Context, tracer *Tracer) *SpanPublisher {
	if parent == nil {
		parent = context.Background()
	}
	return &SpanPublisher{
		tracer:  tracer,
		parent:  parent,
		runs:    make(map[string]runSpan),
		actions: make(map[string]trace.Span),
	}
}

// Publish implements engine.EventPublisher.
func (p *SpanPublisher) Publish(_ context.Context, event *engine.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Type {
	case engine.EventTypeRunStarted:
		attrs := []attribute.KeyValue{AttrRunID.String(event.RunID)}
		if event.Run != nil {
			attrs = append(attrs,
				AttrTargetHost.String(event.Run.Host),
				AttrRunDryRun.Bool(event.Run.DryRun),
			)
		}
		ctx, span := p.tracer.tracer.Start(p.parent, "hostprep.run",
			trace.WithTimestamp(event.Timestamp),
			trace.WithAttributes(attrs...),
		)
		p.runs[event.RunID] = runSpan{ctx: ctx, span: span}

	case engine.EventTypeActionStarted:
		_, span := p.tracer.tracer.Start(p.runContext(event.RunID), "action "+event.ActionID,
			trace.WithTimestamp(event.Timestamp),
			trace.WithAttributes(AttrActionID.String(event.ActionID)),
		)
		p.actions[actionKey(event)] = span

	case engine.EventTypeActionSkipped, engine.EventTypeActionSucceeded, engine.EventTypeActionFailed:
		key := actionKey(event)
		span, ok := p.actions[key]
		if !ok {
			start := event.Timestamp
			if event.Result != nil {
				start = event.Result.StartedAt
			}
			_, span = p.tracer.tracer.Start(p.runContext(event.RunID), "action "+event.ActionID,
				trace.WithTimestamp(start),
				trace.WithAttributes(AttrActionID.String(event.ActionID)),
			)
		}
		delete(p.actions, key)
		endActionSpan(span, event)

	case engine.EventTypeRunCompleted:
		rs, ok := p.runs[event.RunID]
		if !ok {
			return nil
		}
		delete(p.runs, event.RunID)
		if run := event.Run; run != nil {
			rs.span.SetAttributes(AttrRunStatus.String(string(run.Status)))
			if run.Status != engine.RunStatusSucceeded {
				rs.span.SetStatus(codes.Error, fmt.Sprintf("%d actions failed", run.Summary.Failed))
			} else {
				rs.span.SetStatus(codes.Ok, "")
			}
		}
		rs.span.End(trace.WithTimestamp(event.Timestamp))
	}
	return nil
}

func (p *SpanPublisher) runContext(runID string) context.Context {
	if rs, ok := p.runs[runID]; ok {
		return rs.ctx
	}
	return p.parent
}

func actionKey(event *engine.Event) string {
	return event.RunID + "/" + event.ActionID
}

func endActionSpan(span trace.Span, event *engine.Event) {
	if r := event.Result; r != nil {
		span.SetAttributes(
			AttrActionStatus.String(string(r.Status)),
			AttrActionForced.Bool(r.Forced),
		)
		if r.Error != nil {
			span.SetAttributes(AttrErrorCode.String(r.Error.Code))
			RecordError(span, r.Error)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	span.End(trace.WithTimestamp(event.Timestamp))
}
