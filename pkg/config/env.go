package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the settings that can be overridden from the
// environment. Unset variables leave the pointers nil.
type envOverrides struct {
	MinCUDAVersion *string `env:"HOSTPREP_MIN_CUDA_VERSION"`
	ActionTimeout  *string `env:"HOSTPREP_ACTION_TIMEOUT"`
	Sudo           *bool   `env:"HOSTPREP_SUDO"`
	DaemonConfig   *string `env:"HOSTPREP_DAEMON_CONFIG"`
	DefaultRuntime *bool   `env:"HOSTPREP_DOCKER_DEFAULT_RUNTIME"`
	StateDB        *string `env:"HOSTPREP_STATE_DB"`
	PolicyEnabled  *bool   `env:"HOSTPREP_POLICY_ENABLED"`
	LogLevel       *string `env:"HOSTPREP_LOG_LEVEL"`
	LogFormat      *string `env:"HOSTPREP_LOG_FORMAT"`
	MetricsFile    *string `env:"HOSTPREP_METRICS_FILE"`
	TraceExporter  *string `env:"HOSTPREP_TRACE_EXPORTER"`
	OTLPEndpoint   *string `env:"HOSTPREP_OTLP_ENDPOINT"`
}

// ApplyEnv overrides cfg with HOSTPREP_* environment variables.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.MinCUDAVersion, o.MinCUDAVersion)
	setString(&cfg.ActionTimeout, o.ActionTimeout)
	setBool(&cfg.Sudo, o.Sudo)
	setString(&cfg.Docker.DaemonConfig, o.DaemonConfig)
	setBool(&cfg.Docker.DefaultRuntime, o.DefaultRuntime)
	setString(&cfg.History.StateDB, o.StateDB)
	setBool(&cfg.Policy.Enabled, o.PolicyEnabled)
	setString(&cfg.Telemetry.LogLevel, o.LogLevel)
	setString(&cfg.Telemetry.LogFormat, o.LogFormat)
	setString(&cfg.Telemetry.MetricsFile, o.MetricsFile)
	setString(&cfg.Telemetry.Tracing.Exporter, o.TraceExporter)
	setString(&cfg.Telemetry.Tracing.Endpoint, o.OTLPEndpoint)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
