package engine

import (
	"context"
	"strings"
	"time"
)

// Command is an external command invocation identified by name and argument list.
type Command struct {
	// Name is the executable to run.
	Name string `json:"name"`

	// Args are the arguments passed to the executable.
	Args []string `json:"args,omitempty"`

	// Env holds extra environment variables for the command.
	Env map[string]string `json:"env,omitempty"`

	// Stdin is fed to the command's standard input when non-nil.
	Stdin []byte `json:"-"`
}

// NewCommand creates a command from a name and arguments.
func NewCommand(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command as a shell-like line for display.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'$|&;<>") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// CommandOutput is everything observable about a finished command.
type CommandOutput struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Combined returns stdout followed by stderr, trimmed.
func (o *CommandOutput) Combined() string {
	if o == nil {
		return ""
	}
	out := strings.TrimSpace(o.Stdout)
	errOut := strings.TrimSpace(o.Stderr)
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	default:
		return out + "\n" + errOut
	}
}

// Runner executes external commands on a host.
//
// Run returns the output even when the command fails. A non-zero exit status
// is reported as an *EngineError with code ACTION_FAILED carrying the output as
// diagnostic; an expired context is reported with code TIMEOUT.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*CommandOutput, error)
}

// Env is what conditions and effects see of the host.
type Env struct {
	// Facts is the snapshot collected at the start of the run.
	Facts *HostFacts

	// Runner executes commands on the target host.
	Runner Runner
}

// Condition is a read-only predicate over the host.
// An error means the condition could not be evaluated.
type Condition func(ctx context.Context, env *Env) (bool, error)

// Effect is the idempotent operation an action performs.
type Effect interface {
	// Describe returns a one-line human-readable description.
	Describe() string

	// Commands lists the external commands the effect may invoke.
	Commands() []Command

	// Apply performs the effect and returns captured diagnostic output.
	Apply(ctx context.Context, env *Env) (string, error)
}

// EventPublisher receives execution events.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}
