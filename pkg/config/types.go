package config

import (
	"strconv"
	"time"
)

// DefaultPath is where hostprep looks for its configuration file.
const DefaultPath = "/etc/hostprep/hostprep.cue"

// Config is the complete hostprep configuration after defaults, file and
// environment have been applied.
type Config struct {
	// MinCUDAVersion is the lowest acceptable CUDA version, e.g. "11.8".
	MinCUDAVersion string `json:"min_cuda_version" validate:"required,version"`

	// ActionTimeout is the default per-action effect timeout, e.g. "20m".
	ActionTimeout string `json:"action_timeout" validate:"required,duration"`

	// Sudo runs commands through sudo when not root.
	Sudo bool `json:"sudo"`

	Docker    DockerConfig    `json:"docker"`
	Packages  PackagesConfig  `json:"packages"`
	Rules     []RuleConfig    `json:"rules" validate:"dive"`
	Policy    PolicyConfig    `json:"policy"`
	History   HistoryConfig   `json:"history"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Target    TargetConfig    `json:"target"`

	// Source is the file the configuration was loaded from, if any.
	Source string `json:"-"`
}

// DockerConfig controls the Docker daemon configuration patch.
type DockerConfig struct {
	// DaemonConfig is the path of daemon.json.
	DaemonConfig string `json:"daemon_config" validate:"required"`

	// DefaultRuntime makes nvidia the daemon's default runtime on GPU hosts.
	DefaultRuntime bool `json:"default_runtime"`

	// Restart restarts docker after daemon.json changes.
	Restart bool `json:"restart"`

	// Backup keeps the previous daemon.json next to the new one.
	Backup bool `json:"backup"`

	// Settings are merged into daemon.json on every host.
	Settings map[string]interface{} `json:"settings"`
}

// PackagesConfig maps package manager names (apt, dnf, yum, zypper) to the
// packages installed for each component.
type PackagesConfig struct {
	Driver  map[string][]string `json:"driver"`
	CUDA    map[string][]string `json:"cuda"`
	Docker  map[string][]string `json:"docker"`
	Toolkit map[string][]string `json:"toolkit"`
}

// RuleConfig is a user-defined provisioning rule.
type RuleConfig struct {
	ID          string `json:"id" validate:"required"`
	Description string `json:"description"`

	// When is a Starlark expression over facts; empty means always.
	When string `json:"when"`

	// After lists rule IDs this rule depends on.
	After []string `json:"after"`

	// Check is a shell command whose zero exit status means the rule is satisfied.
	Check string `json:"check" validate:"required"`

	// Commands are shell commands run in order when the check fails.
	Commands []string `json:"commands" validate:"min=1,dive,required"`

	// Verify is the postcondition command; defaults to Check.
	Verify string `json:"verify"`

	// Timeout overrides the default action timeout.
	Timeout string `json:"timeout" validate:"omitempty,duration"`
}

// PolicyConfig configures the policy gate evaluated before execution.
type PolicyConfig struct {
	Enabled bool `json:"enabled"`

	// Paths lists additional .rego files or directories.
	Paths []string `json:"paths"`

	// AllowedCommands extends the built-in command allowlist.
	AllowedCommands []string `json:"allowed_commands"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	// StateDB is the SQLite database path; empty disables history.
	StateDB string `json:"state_db"`
}

// TelemetryConfig configures logging, metrics and tracing.
type TelemetryConfig struct {
	LogLevel    string        `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string        `json:"log_format" validate:"oneof=console json"`
	MetricsFile string        `json:"metrics_file"`
	Tracing     TracingConfig `json:"tracing"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter string `json:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `json:"endpoint" validate:"required_if=Exporter otlp"`
}

// TargetConfig selects a remote host reached over SSH. An empty Host means
// the local machine.
type TargetConfig struct {
	Host    string `json:"host"`
	User    string `json:"user"`
	Port    int    `json:"port" validate:"min=1,max=65535"`
	KeyPath string `json:"key_path"`

	// KnownHosts is the known_hosts file; empty means ~/.ssh/known_hosts.
	KnownHosts string `json:"known_hosts"`

	// Insecure skips host key verification.
	Insecure bool `json:"insecure"`
}

// Timeout returns the parsed default action timeout.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.ActionTimeout)
	if err != nil {
		return 0
	}
	return d
}

// TimeoutDuration returns the parsed rule timeout, or 0 for the default.
func (r RuleConfig) TimeoutDuration() time.Duration {
	if r.Timeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(r.Timeout)
	return d
}

// Remote reports whether the target is a remote host.
func (c *Config) Remote() bool {
	return c.Target.Host != ""
}

// ValidationError represents a configuration error with location information.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = loc + ":" + strconv.Itoa(e.Line) + ":" + strconv.Itoa(e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return loc + ": " + e.Path + ": " + e.Message
	case loc != "":
		return loc + ": " + e.Message
	case e.Path != "":
		return e.Path + ": " + e.Message
	default:
		return e.Message
	}
}
