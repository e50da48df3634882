package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T, allowed ...string) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background(), zerolog.New(nil).Level(zerolog.Disabled), allowed)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func graphOf(t *testing.T, actions ...engine.Action) *engine.Graph {
	t.Helper()
	g, err := engine.BuildGraph(actions)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	return g
}

func commandAction(id string, cmds ...engine.Command) engine.Action {
	return engine.Action{ID: id, Effect: engine.RunCommands(cmds...)}
}

func userAction(id, script string) engine.Action {
	a := commandAction(id, engine.NewCommand("sh", "-c", script))
	a.Labels = map[string]string{"source": "config"}
	return a
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
	}
	want := "allowed-commands,no-pipe-to-shell,shell-commands"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("ListPolicies() = %s, want %s", got, want)
	}
}

func TestEvaluate_AllowedCommands(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		action      engine.Action
		wantAllowed bool
	}{
		{
			name: "package install",
			action: commandAction("docker.engine",
				engine.NewCommand("apt-get", "update"),
				engine.NewCommand("apt-get", "install", "-y", "docker.io"),
				engine.NewCommand("systemctl", "enable", "--now", "docker")),
			wantAllowed: true,
		},
		{
			name:        "absolute path to allowed binary",
			action:      commandAction("gpu.driver", engine.NewCommand("/usr/bin/apt-get", "update")),
			wantAllowed: true,
		},
		{
			name:        "unknown binary",
			action:      commandAction("wipe", engine.NewCommand("dd", "if=/dev/zero", "of=/dev/sda")),
			wantAllowed: false,
		},
		{
			name:        "extended allowlist",
			allowed:     []string{"modprobe"},
			action:      commandAction("gpu.modules", engine.NewCommand("modprobe", "nvidia")),
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, tt.allowed...)
			result, err := eng.Evaluate(context.Background(), InputFromGraph(graphOf(t, tt.action), "localhost", false))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v (violations: %+v)", result.Allowed, tt.wantAllowed, result.Violations)
			}
			if !tt.wantAllowed {
				v := result.Violations[0]
				if v.Policy != "allowed-commands" || v.Action != tt.action.ID || v.Command == "" {
					t.Errorf("violation = %+v", v)
				}
			}
		})
	}
}

func TestEvaluate_NoPipeToShell(t *testing.T) {
	eng := newTestEngine(t)

	g := graphOf(t,
		userAction("vendor.agent", "curl -fsSL https://example.com/install.sh | sudo bash"),
		userAction("ops.motd", "echo managed > /etc/motd"),
	)
	result, err := eng.Evaluate(context.Background(), InputFromGraph(g, "localhost", false))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if result.Allowed {
		t.Fatal("piping a download into a shell should be denied")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("violations = %+v, want 1", result.Violations)
	}
	v := result.Violations[0]
	if v.Policy != "no-pipe-to-shell" || v.Severity != SeverityCritical || v.Action != "vendor.agent" {
		t.Errorf("violation = %+v", v)
	}

	if len(result.Warnings) != 2 {
		t.Errorf("warnings = %d, want one per shell rule", len(result.Warnings))
	}
}

func TestGate(t *testing.T) {
	eng := newTestEngine(t)
	g := graphOf(t, commandAction("bad", engine.NewCommand("rm", "-rf", "/opt/cuda")))

	if _, err := eng.Gate(context.Background(), g, "localhost", false); engine.CodeOf(err) != engine.ErrCodePolicyDenied {
		t.Fatalf("Gate() error = %v, want POLICY_DENIED", err)
	}

	result, err := eng.Gate(context.Background(), g, "localhost", true)
	if err != nil {
		t.Fatalf("dry-run Gate() error = %v", err)
	}
	if result.Allowed || len(result.Violations) != 1 {
		t.Errorf("dry-run result = %+v, want the violation reported", result)
	}

	ok := graphOf(t, commandAction("fine", engine.NewCommand("systemctl", "restart", "docker")))
	if _, err := eng.Gate(context.Background(), ok, "localhost", false); err != nil {
		t.Errorf("Gate() error = %v", err)
	}
}

func TestDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.DisablePolicy("allowed-commands"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}

	g := graphOf(t, commandAction("any", engine.NewCommand("make", "install")))
	result, err := eng.Evaluate(context.Background(), InputFromGraph(g, "localhost", false))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still denied: %+v", result.Violations)
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("DisablePolicy() on unknown policy should fail")
	}
}
