package engine

import (
	"context"
	"strings"
	"testing"
)

// scriptedRunner answers commands from a table keyed by the rendered command line.
type scriptedRunner struct {
	outputs map[string]*CommandOutput
	calls   []string
}

func (r *scriptedRunner) Run(_ context.Context, cmd Command) (*CommandOutput, error) {
	line := cmd.String()
	r.calls = append(r.calls, line)
	out, ok := r.outputs[line]
	if !ok {
		out = &CommandOutput{Stderr: line + ": command not found", ExitCode: 127}
	}
	if out.ExitCode != 0 {
		return out, NewActionError("command exited non-zero", nil).WithDiagnostic(out.Combined())
	}
	return out, nil
}

func TestCommandEffect_StopsAtFirstFailure(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]*CommandOutput{
		"apt-get update":                {Stdout: "Hit:1 http://archive.ubuntu.com"},
		"apt-get install -y docker.io": {Stderr: "E: dpkg was interrupted", ExitCode: 100},
	}}

	effect := RunCommands(
		NewCommand("apt-get", "update"),
		NewCommand("apt-get", "install", "-y", "docker.io"),
		NewCommand("systemctl", "enable", "--now", "docker"),
	)

	out, err := effect.Apply(context.Background(), &Env{Runner: runner})
	if err == nil {
		t.Fatal("Expected error from failing step")
	}
	if len(runner.calls) != 2 {
		t.Errorf("Expected 2 calls, got %v", runner.calls)
	}
	if !strings.Contains(out, "Hit:1") || !strings.Contains(out, "dpkg was interrupted") {
		t.Errorf("Expected output from both steps, got %q", out)
	}
}

func TestCommandEffect_Describe(t *testing.T) {
	effect := RunCommands(
		NewCommand("systemctl", "restart", "docker"),
		NewCommand("sh", "-c", "echo ok"),
	)
	want := "run: systemctl restart docker && sh -c 'echo ok'"
	if got := effect.Describe(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	effect.Summary = "restart docker"
	if got := effect.Describe(); got != "restart docker" {
		t.Errorf("Summary should override description, got %q", got)
	}
}

func TestConditions(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]*CommandOutput{
		"nvidia-smi": {Stdout: "Driver Version: 535.104.05"},
	}}
	env := &Env{Runner: runner}
	ctx := context.Background()

	ok, err := CommandSucceeds(NewCommand("nvidia-smi"))(ctx, env)
	if err != nil || !ok {
		t.Errorf("Expected nvidia-smi to succeed, got %v %v", ok, err)
	}

	ok, err = CommandSucceeds(NewCommand("nvidia-ctk", "--version"))(ctx, env)
	if err != nil || ok {
		t.Errorf("Expected missing command to report false without error, got %v %v", ok, err)
	}

	ok, _ = All(Always, CommandSucceeds(NewCommand("nvidia-smi")))(ctx, env)
	if !ok {
		t.Error("Expected All to hold")
	}

	ok, _ = Not(Always)(ctx, env)
	if ok {
		t.Error("Expected Not(Always) to be false")
	}
}

func TestCommand_String(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{NewCommand("docker", "--version"), "docker --version"},
		{NewCommand("echo", ""), "echo ''"},
		{NewCommand("sh", "-c", "it's"), `sh -c 'it'\''s'`},
	}
	for _, tt := range tests {
		if got := tt.cmd.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
