package telemetry

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// Telemetry bundles logging, tracing and metrics for one process.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config

	closer io.Closer
}

// New creates every telemetry component from configuration and installs
// the logger globally.
func New(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closer, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	SetGlobal(logger)

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: NewMetrics(),
		Config:  cfg,
		closer:  closer,
	}, nil
}

// Publishers returns the execution event publishers for a run started
// under ctx.
func (t *Telemetry) Publishers(ctx context.Context) []engine.EventPublisher {
	return []engine.EventPublisher{
		NewEventLogger(t.Logger),
		t.Metrics,
		NewSpanPublisher(ctx, t.Tracer),
	}
}

// Shutdown writes the metrics textfile, flushes spans and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.Config.MetricsFile != "" {
		errs = append(errs, t.Metrics.WriteTextfile(t.Config.MetricsFile))
	}
	errs = append(errs, t.Tracer.Shutdown(ctx))
	if t.closer != nil {
		errs = append(errs, t.closer.Close())
	}
	return errors.Join(errs...)
}
