package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// drainTimeout bounds the wait for a cancelled session to hand back its
// captured output.
const drainTimeout = 5 * time.Second

// Run implements engine.Runner by executing the command in a new SSH session.
//
// The remote exit status is mapped the same way as for local commands: a
// non-zero status is an ACTION_FAILED error carrying the output and an
// expired context is a TIMEOUT. Connection failures surface as action
// errors wrapping a *TransportError.
func (c *SSHClient) Run(ctx context.Context, cmd engine.Command) (*engine.CommandOutput, error) {
	if cmd.Name == "" {
		return nil, engine.NewActionError("command is required", nil)
	}

	client, err := c.getClient()
	if err != nil {
		return nil, engine.NewActionError("ssh connection unavailable", err).WithOperation(cmd.String())
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, engine.NewActionError("failed to open ssh session", &TransportError{
			Op:          "exec",
			Err:         err,
			IsTemporary: true,
		}).WithOperation(cmd.String())
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != nil {
		session.Stdin = bytes.NewReader(cmd.Stdin)
	}

	line := c.commandLine(cmd)
	start := time.Now()

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	var execErr error
	drained := true
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		execErr = ctx.Err()
		// The session goroutine owns the buffers until it returns.
		select {
		case <-done:
		case <-time.After(drainTimeout):
			drained = false
		}
	case execErr = <-done:
	}

	out := &engine.CommandOutput{Duration: time.Since(start)}
	if drained {
		out.Stdout = stdout.String()
		out.Stderr = stderr.String()
	}

	log.Debug().
		Str("host", c.config.Host).
		Str("command", cmd.String()).
		Dur("duration", out.Duration).
		Err(execErr).
		Msg("Executed remote command")

	if execErr == nil {
		return out, nil
	}
	return out, classifyExit(ctx, cmd, out, execErr)
}

// classifyExit converts a session error into an engine error carrying the output.
func classifyExit(ctx context.Context, cmd engine.Command, out *engine.CommandOutput, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.ExitCode = -1
		return engine.NewTimeoutError("", err).
			WithOperation(cmd.String()).
			WithDiagnostic(out.Combined())
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitStatus()
		return engine.NewActionError(
			fmt.Sprintf("%s exited with status %d", cmd.Name, out.ExitCode), err,
		).WithOperation(cmd.String()).WithDiagnostic(out.Combined())
	}

	out.ExitCode = -1
	return engine.NewActionError(fmt.Sprintf("failed to execute %s", cmd.Name), &TransportError{
		Op:          "exec",
		Err:         err,
		IsTemporary: true,
	}).WithOperation(cmd.String()).WithDiagnostic(out.Combined())
}

// commandLine renders cmd for the remote login shell. Arguments are always
// quoted; environment variables go through env(1) so they reach the command
// under sudo too.
func (c *SSHClient) commandLine(cmd engine.Command) string {
	var parts []string
	if c.config.Sudo && c.config.User != "root" {
		parts = append(parts, "sudo", "-n", "--")
	}

	env := mergeEnv(c.config.Env, cmd.Env)
	if len(env) > 0 {
		parts = append(parts, "env")
		for _, kv := range env {
			parts = append(parts, shellQuote(kv))
		}
	}

	parts = append(parts, shellQuote(cmd.Name))
	for _, a := range cmd.Args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func mergeEnv(maps ...map[string]string) []string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// shellQuote quotes s for a POSIX shell. Words made only of safe characters
// are left bare.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
