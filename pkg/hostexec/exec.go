// Package hostexec runs external commands on the local host and builds the
// package-manager and service-manager invocations that provisioning effects use.
package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/rs/zerolog/log"
)

// waitDelay bounds how long Run waits for output pipes after the process is killed.
const waitDelay = 5 * time.Second

// LocalRunner executes commands on the local host.
type LocalRunner struct {
	// Sudo prefixes commands with "sudo -n" when not running as root.
	Sudo bool

	// Env holds extra environment variables for every command.
	Env map[string]string
}

// NewLocalRunner creates a runner with non-interactive defaults for package managers.
func NewLocalRunner(sudo bool) *LocalRunner {
	return &LocalRunner{
		Sudo: sudo,
		Env: map[string]string{
			"DEBIAN_FRONTEND": "noninteractive",
			"LC_ALL":          "C",
		},
	}
}

// Run implements engine.Runner.
func (r *LocalRunner) Run(ctx context.Context, c engine.Command) (*engine.CommandOutput, error) {
	if c.Name == "" {
		return nil, engine.NewActionError("command is required", nil)
	}

	name, args := c.Name, c.Args
	if r.Sudo && os.Geteuid() != 0 {
		args = append([]string{"-n", "--", name}, args...)
		name = "sudo"
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	cmd.Env = append(os.Environ(), envList(r.Env, c.Env)...)
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := &engine.CommandOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	log.Debug().
		Str("command", c.String()).
		Dur("duration", out.Duration).
		Err(err).
		Msg("Executed command")

	if err == nil {
		return out, nil
	}
	return out, classifyExit(ctx, c, out, err)
}

// classifyExit converts an exec error into an engine error carrying the output.
func classifyExit(ctx context.Context, c engine.Command, out *engine.CommandOutput, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.ExitCode = -1
		return engine.NewTimeoutError("", err).
			WithOperation(c.String()).
			WithDiagnostic(out.Combined())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return engine.NewActionError(
			fmt.Sprintf("%s exited with status %d", c.Name, out.ExitCode), err,
		).WithOperation(c.String()).WithDiagnostic(out.Combined())
	}

	// The process never started, e.g. executable not found.
	out.ExitCode = 127
	return engine.NewActionError(fmt.Sprintf("failed to execute %s", c.Name), err).
		WithOperation(c.String())
}

func envList(maps ...map[string]string) []string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, merged[k]))
	}
	return env
}
