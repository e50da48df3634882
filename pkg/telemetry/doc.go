// Package telemetry provides observability for provisioning runs.
//
// It integrates structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus). Each of the three subscribes to the executor's event
// stream as an engine.EventPublisher:
//
//  1. EventLogger - one log line per action outcome
//  2. SpanPublisher - a span per run with a child span per action
//  3. Metrics - action and run counters written to a textfile
//
// # Usage
//
//	tel, err := telemetry.New(telemetry.FromConfig(cfg, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	exec := engine.NewExecutor(runner, facts, engine.ExecutorOptions{
//	    Publishers: tel.Publishers(ctx),
//	})
//
// # Metrics
//
// hostprep runs once and exits, so metrics are not served over HTTP. When
// telemetry.metrics_file is set, Shutdown writes the registry in the text
// exposition format for the node_exporter textfile collector:
//
//	hostprep_actions_total{action,status}
//	hostprep_action_duration_seconds{action}
//	hostprep_runs_total{status}
//	hostprep_run_duration_seconds
//	hostprep_run_failed_actions
//	hostprep_last_run_timestamp_seconds
//
// # Tracing
//
// Exporters: none (spans are created but dropped), stdout (pretty JSON) and
// otlp (gRPC to telemetry.tracing.endpoint).
package telemetry
