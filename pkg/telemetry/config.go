package telemetry

import (
	"fmt"
	"time"

	"github.com/openfroyo/hostprep/pkg/config"
)

// Config contains the telemetry configuration for a hostprep process.
type Config struct {
	// ServiceName identifies the process in traces.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Logging contains logging configuration.
	Logging LoggingConfig

	// Tracing contains tracing configuration.
	Tracing TracingConfig

	// MetricsFile is the Prometheus textfile written when the run ends.
	// Empty disables metrics output.
	MetricsFile string
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format specifies the log format (console, json).
	Format string

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool

	// NoColor disables ANSI colors in console output.
	NoColor bool
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Exporter specifies the trace exporter (none, stdout, otlp).
	Exporter string

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	// Insecure disables TLS for the OTLP connection.
	Insecure bool

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// ExportTimeout bounds each batch export.
	ExportTimeout time.Duration
}

// DefaultConfig returns a configuration that logs to stderr in console
// format and exports nothing.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "hostprep",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
	}
}

// FromConfig derives the telemetry configuration from the loaded hostprep
// configuration.
func FromConfig(cfg *config.Config, version string) *Config {
	out := DefaultConfig()
	if version != "" {
		out.ServiceVersion = version
	}
	if cfg == nil {
		return out
	}

	t := cfg.Telemetry
	if t.LogLevel != "" {
		out.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		out.Logging.Format = t.LogFormat
	}
	out.MetricsFile = t.MetricsFile
	if t.Tracing.Exporter != "" {
		out.Tracing.Exporter = t.Tracing.Exporter
	}
	out.Tracing.Endpoint = t.Tracing.Endpoint
	out.Tracing.Insecure = true
	return out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	switch c.Tracing.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("otlp exporter requires an endpoint")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be between 0.0 and 1.0")
	}

	return nil
}
