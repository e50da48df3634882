package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/hostprep/pkg/config"
	"github.com/openfroyo/hostprep/pkg/engine"
)

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telemetry.LogLevel = "debug"
	cfg.Telemetry.LogFormat = "json"
	cfg.Telemetry.MetricsFile = "/var/lib/node_exporter/hostprep.prom"
	cfg.Telemetry.Tracing.Exporter = "otlp"
	cfg.Telemetry.Tracing.Endpoint = "collector:4317"

	got := FromConfig(cfg, "1.2.0")
	if got.ServiceVersion != "1.2.0" || got.Logging.Level != "debug" || got.Logging.Format != "json" {
		t.Errorf("unexpected config: %+v", got)
	}
	if got.MetricsFile != cfg.Telemetry.MetricsFile || got.Tracing.Endpoint != "collector:4317" {
		t.Errorf("unexpected config: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	if d := FromConfig(nil, ""); d.Logging.Level != "info" || d.Tracing.Exporter != "none" {
		t.Errorf("nil config should give defaults: %+v", d)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty service", func(c *Config) { c.ServiceName = "" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Exporter = "otlp" }},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 2 }},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEventLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LoggingConfig{Level: "info", Format: "json"})
	pub := NewEventLogger(logger)
	ctx := context.Background()

	_ = pub.Publish(ctx, &engine.Event{
		Type:     engine.EventTypeActionStarted,
		RunID:    "run-1",
		ActionID: "gpu.driver",
		Level:    "info",
		Message:  "Started gpu.driver",
	})
	_ = pub.Publish(ctx, &engine.Event{
		Type:     engine.EventTypeActionFailed,
		RunID:    "run-1",
		ActionID: "gpu.driver",
		Level:    "error",
		Message:  "Action gpu.driver failed",
		Result: &engine.ActionResult{
			ActionID: "gpu.driver",
			Status:   engine.ActionStatusFailed,
			Error:    engine.NewActionError("apt-get failed", errors.New("exit status 100")),
		},
	})

	out := buf.String()
	if strings.Contains(out, "Started gpu.driver") {
		t.Error("action_started should log at debug level")
	}
	for _, want := range []string{`"level":"error"`, `"run_id":"run-1"`, `"action":"gpu.driver"`, `"code":"ACTION_FAILED"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestMetricsPublish(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	for _, r := range []*engine.ActionResult{
		{ActionID: "docker.engine", Status: engine.ActionStatusSkipped},
		{ActionID: "nvidia.toolkit", Status: engine.ActionStatusSucceeded, Duration: 2 * time.Second},
		{ActionID: "docker.daemon-config", Status: engine.ActionStatusFailed},
	} {
		_ = m.Publish(ctx, &engine.Event{Type: engine.EventTypeActionSucceeded, Result: r})
	}
	_ = m.Publish(ctx, &engine.Event{
		Type:      engine.EventTypeRunCompleted,
		Timestamp: time.Now(),
		Run: &engine.Run{
			Status:   engine.RunStatusPartial,
			Duration: 3 * time.Second,
			Summary:  engine.RunSummary{Total: 3, Succeeded: 1, Skipped: 1, Failed: 1},
		},
	})

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range metric.GetLabel() {
				key += "," + lp.GetValue()
			}
			switch {
			case metric.GetCounter() != nil:
				values[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[key] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				values[key] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	want := map[string]float64{
		"hostprep_actions_total,docker.engine,skipped":       1,
		"hostprep_actions_total,nvidia.toolkit,succeeded":    1,
		"hostprep_actions_total,docker.daemon-config,failed": 1,
		"hostprep_action_duration_seconds,nvidia.toolkit":    1,
		"hostprep_runs_total,partial":                        1,
		"hostprep_run_failed_actions":                        1,
		"hostprep_run_duration_seconds":                      3,
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("%s = %v, want %v", k, values[k], v)
		}
	}
	if _, ok := values["hostprep_action_duration_seconds,docker.engine"]; ok {
		t.Error("skipped actions should not observe a duration")
	}
}

func TestSpanPublisher(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := &Tracer{provider: provider, tracer: provider.Tracer("test")}
	pub := NewSpanPublisher(context.Background(), tracer)
	ctx := context.Background()
	now := time.Now()

	events := []*engine.Event{
		{Type: engine.EventTypeRunStarted, RunID: "r1", Timestamp: now, Run: &engine.Run{Host: "gpu01"}},
		{Type: engine.EventTypeActionSkipped, RunID: "r1", ActionID: "docker.engine", Timestamp: now,
			Result: &engine.ActionResult{ActionID: "docker.engine", Status: engine.ActionStatusSkipped, StartedAt: now}},
		{Type: engine.EventTypeActionStarted, RunID: "r1", ActionID: "gpu.cuda", Timestamp: now},
		{Type: engine.EventTypeActionFailed, RunID: "r1", ActionID: "gpu.cuda", Timestamp: now.Add(time.Second),
			Result: &engine.ActionResult{ActionID: "gpu.cuda", Status: engine.ActionStatusFailed,
				Error: engine.NewActionError("install failed", nil)}},
		{Type: engine.EventTypeRunCompleted, RunID: "r1", Timestamp: now.Add(2 * time.Second),
			Run: &engine.Run{Status: engine.RunStatusPartial, Summary: engine.RunSummary{Failed: 1}}},
	}
	for _, e := range events {
		if err := pub.Publish(ctx, e); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	run := spans[2]
	if run.Name() != "hostprep.run" || run.Status().Code != codes.Error {
		t.Errorf("run span = %s %v", run.Name(), run.Status())
	}
	for _, s := range spans[:2] {
		if s.Parent().SpanID() != run.SpanContext().SpanID() {
			t.Errorf("span %s is not a child of the run span", s.Name())
		}
	}
	if spans[1].Name() != "action gpu.cuda" || spans[1].Status().Code != codes.Error {
		t.Errorf("action span = %s %v", spans[1].Name(), spans[1].Status())
	}
	if len(pub.actions) != 0 || len(pub.runs) != 0 {
		t.Error("publisher should release finished spans")
	}
}

func TestNewTracer_Exporters(t *testing.T) {
	var buf bytes.Buffer
	for _, exporter := range []string{"none", "stdout"} {
		tr, err := newTracer(TracingConfig{Exporter: exporter}, "hostprep", "test", &buf)
		if err != nil {
			t.Fatalf("newTracer(%s) error = %v", exporter, err)
		}
		_, span := tr.Start(context.Background(), "probe")
		span.End()
		if err := tr.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	}
	if !strings.Contains(buf.String(), `"Name": "probe"`) {
		t.Errorf("stdout exporter did not write the span: %s", buf.String())
	}

	if _, err := newTracer(TracingConfig{Exporter: "zipkin"}, "hostprep", "test", &buf); err == nil {
		t.Error("unknown exporter should fail")
	}
}
