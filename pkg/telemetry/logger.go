package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// NewLogger creates a zerolog logger with the given configuration.
// The returned closer releases a log file; it is a no-op for stdout and stderr.
func NewLogger(cfg LoggingConfig) (zerolog.Logger, io.Closer, error) {
	var (
		writer io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		writer = file
		closer = file
	}

	return newLogger(writer, cfg), closer, nil
}

func newLogger(writer io.Writer, cfg LoggingConfig) zerolog.Logger {
	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.NoColor,
		}
	}

	zlog := zerolog.New(writer).With().Timestamp().Logger().Level(parseLogLevel(cfg.Level))
	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}
	return zlog
}

// SetGlobal installs the logger as the process-wide zerolog logger used by
// the engine, collector and rule packages.
func SetGlobal(l zerolog.Logger) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = l
}

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// EventLogger writes execution events to a logger.
type EventLogger struct {
	logger zerolog.Logger
}

// NewEventLogger creates an event publisher that logs through l.
func NewEventLogger(l zerolog.Logger) *EventLogger {
	return &EventLogger{logger: Component(l, "executor")}
}

// Publish implements engine.EventPublisher.
func (p *EventLogger) Publish(_ context.Context, event *engine.Event) error {
	var e *zerolog.Event
	switch event.Level {
	case "error":
		e = p.logger.Error()
	case "warning":
		e = p.logger.Warn()
	default:
		if event.Type == engine.EventTypeActionStarted {
			e = p.logger.Debug()
		} else {
			e = p.logger.Info()
		}
	}

	e = e.Str("run_id", event.RunID).Str("event", string(event.Type))
	if event.ActionID != "" {
		e = e.Str("action", event.ActionID)
	}
	if r := event.Result; r != nil {
		e = e.Str("status", string(r.Status)).Dur("duration", r.Duration)
		if r.Error != nil {
			e = e.Str("code", r.Error.Code)
		}
		if r.Forced {
			e = e.Bool("forced", true)
		}
	}
	if run := event.Run; run != nil && event.Type == engine.EventTypeRunCompleted {
		e = e.Str("status", string(run.Status)).
			Int("succeeded", run.Summary.Succeeded).
			Int("skipped", run.Summary.Skipped).
			Int("failed", run.Summary.Failed)
	}
	e.Msg(event.Message)
	return nil
}
