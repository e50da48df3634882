package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeHost simulates host state mutated by effects.
type fakeHost struct {
	mu        sync.Mutex
	installed map[string]bool
	applied   []string
	failing   map[string]string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		installed: make(map[string]bool),
		failing:   make(map[string]string),
	}
}

func (h *fakeHost) has(name string) Condition {
	return func(context.Context, *Env) (bool, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.installed[name], nil
	}
}

func (h *fakeHost) install(name string) Effect {
	return &FuncEffect{
		Summary: "install " + name,
		Invokes: []Command{NewCommand("apt-get", "install", "-y", name)},
		Fn: func(context.Context, *Env) (string, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.applied = append(h.applied, name)
			if msg, ok := h.failing[name]; ok {
				return msg, errors.New("exit status 100")
			}
			h.installed[name] = true
			return "installed " + name, nil
		},
	}
}

func (h *fakeHost) action(name string, deps ...string) Action {
	return Action{
		ID:           name,
		Description:  "ensure " + name,
		Precondition: h.has(name),
		Effect:       h.install(name),
		Dependencies: deps,
	}
}

func (h *fakeHost) appliedList() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.applied...)
}

// recordingPublisher collects events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*Event
}

func (p *recordingPublisher) Publish(_ context.Context, event *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func mustGraph(t *testing.T, actions ...Action) *Graph {
	t.Helper()
	graph, err := BuildGraph(actions)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	return graph
}

func TestExecutor_AllSucceed(t *testing.T) {
	host := newFakeHost()
	graph := mustGraph(t,
		host.action("docker"),
		host.action("daemon-config", "docker"),
	)

	report, err := NewExecutor(nil, &HostFacts{}, ExecutorOptions{}).Run(context.Background(), graph)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, id := range []string{"docker", "daemon-config"} {
		if report.Results[id].Status != ActionStatusSucceeded {
			t.Errorf("%s: expected succeeded, got %s (%v)", id, report.Results[id].Status, report.Results[id].Error)
		}
	}

	if got := strings.Join(host.appliedList(), ","); got != "docker,daemon-config" {
		t.Errorf("Expected effects in dependency order, got %s", got)
	}

	if !report.OK() {
		t.Error("Expected report to be OK")
	}
	if report.Run.Status != RunStatusSucceeded {
		t.Errorf("Expected run status succeeded, got %s", report.Run.Status)
	}
	if report.Run.Summary.Succeeded != 2 {
		t.Errorf("Expected 2 succeeded, got %d", report.Run.Summary.Succeeded)
	}
}

func TestExecutor_SkipsSatisfiedPrecondition(t *testing.T) {
	host := newFakeHost()
	host.installed["docker"] = true

	graph := mustGraph(t, host.action("docker"))
	report, _ := NewExecutor(nil, nil, ExecutorOptions{}).Run(context.Background(), graph)

	if report.Results["docker"].Status != ActionStatusSkipped {
		t.Errorf("Expected skipped, got %s", report.Results["docker"].Status)
	}
	if len(host.appliedList()) != 0 {
		t.Errorf("Skipped action must not invoke its effect, got %v", host.appliedList())
	}
}

func TestExecutor_ForceIgnoresPrecondition(t *testing.T) {
	host := newFakeHost()
	host.installed["docker"] = true

	graph := mustGraph(t, host.action("docker"))
	report, _ := NewExecutor(nil, nil, ExecutorOptions{Force: true}).Run(context.Background(), graph)

	res := report.Results["docker"]
	if res.Status != ActionStatusSucceeded {
		t.Errorf("Expected succeeded, got %s", res.Status)
	}
	if !res.Forced {
		t.Error("Expected result to be marked forced")
	}
	if len(host.appliedList()) != 1 {
		t.Errorf("Expected effect to run once, got %v", host.appliedList())
	}
}

func TestExecutor_Idempotence(t *testing.T) {
	host := newFakeHost()
	graph := mustGraph(t,
		host.action("driver"),
		host.action("cuda", "driver"),
		host.action("docker"),
		host.action("toolkit", "driver", "docker"),
	)
	exec := NewExecutor(nil, nil, ExecutorOptions{})

	first, _ := exec.Run(context.Background(), graph)
	if first.Run.Summary.Succeeded != 4 {
		t.Fatalf("Expected 4 succeeded on first run, got %+v", first.Run.Summary)
	}

	second, _ := exec.Run(context.Background(), graph)
	for id, res := range second.Results {
		if res.Status != ActionStatusSkipped {
			t.Errorf("%s: expected skipped on second run, got %s", id, res.Status)
		}
	}
	if len(host.appliedList()) != 4 {
		t.Errorf("Second run must not invoke effects, applied %v", host.appliedList())
	}
}

func TestExecutor_FailFastPropagation(t *testing.T) {
	host := newFakeHost()
	host.failing["driver"] = "E: Unable to locate package nvidia-driver"

	graph := mustGraph(t,
		host.action("driver"),
		host.action("cuda", "driver"),
		host.action("cuda-samples", "cuda"),
		host.action("docker"),
	)

	report, _ := NewExecutor(nil, nil, ExecutorOptions{}).Run(context.Background(), graph)

	driver := report.Results["driver"]
	if driver.Status != ActionStatusFailed {
		t.Fatalf("Expected driver failed, got %s", driver.Status)
	}
	if !strings.Contains(driver.Diagnostic, "Unable to locate package") {
		t.Errorf("Expected captured diagnostic, got %q", driver.Diagnostic)
	}
	if driver.Error.Code != ErrCodeActionFailed {
		t.Errorf("Expected ACTION_FAILED, got %s", driver.Error.Code)
	}

	for _, id := range []string{"cuda", "cuda-samples"} {
		res := report.Results[id]
		if res.Status != ActionStatusFailed {
			t.Errorf("%s: expected failed, got %s", id, res.Status)
		}
		if res.Error == nil || res.Error.Code != ErrCodeDependencyFailed {
			t.Errorf("%s: expected DEPENDENCY_FAILED, got %v", id, res.Error)
		}
	}

	if report.Results["docker"].Status != ActionStatusSucceeded {
		t.Errorf("Independent action should still succeed, got %s", report.Results["docker"].Status)
	}

	applied := strings.Join(host.appliedList(), ",")
	if strings.Contains(applied, "cuda") {
		t.Errorf("Dependents of a failed action must not run, applied %s", applied)
	}

	if report.Run.Status != RunStatusPartial {
		t.Errorf("Expected partial run, got %s", report.Run.Status)
	}
	if got := report.Failed(); len(got) != 3 {
		t.Errorf("Expected 3 failed actions, got %v", got)
	}
}

func TestExecutor_PostconditionNotSatisfied(t *testing.T) {
	graph := mustGraph(t, Action{
		ID:            "toolkit",
		Effect:        noopEffect(),
		Postcondition: func(context.Context, *Env) (bool, error) { return false, nil },
	})

	report, _ := NewExecutor(nil, nil, ExecutorOptions{}).Run(context.Background(), graph)
	res := report.Results["toolkit"]
	if res.Status != ActionStatusFailed {
		t.Fatalf("Expected failed, got %s", res.Status)
	}
	if !strings.Contains(res.Reason(), "postcondition") {
		t.Errorf("Expected postcondition reason, got %q", res.Reason())
	}
}

func TestExecutor_PreconditionErrorIsLocal(t *testing.T) {
	host := newFakeHost()
	graph := mustGraph(t,
		Action{
			ID:     "cuda",
			Effect: noopEffect(),
			Precondition: func(context.Context, *Env) (bool, error) {
				return false, NewMalformedVersionError("CUDA Version: N/A")
			},
		},
		host.action("docker"),
	)

	report, _ := NewExecutor(nil, nil, ExecutorOptions{}).Run(context.Background(), graph)

	cuda := report.Results["cuda"]
	if cuda.Status != ActionStatusFailed || !IsMalformedVersion(cuda.Error) {
		t.Errorf("Expected cuda failed with MALFORMED_VERSION, got %s %v", cuda.Status, cuda.Error)
	}
	if cuda.Error.Class != ErrorClassAction {
		t.Errorf("Precondition errors must stay action-scoped, got %s", cuda.Error.Class)
	}
	if report.Results["docker"].Status != ActionStatusSucceeded {
		t.Errorf("Sibling should succeed, got %s", report.Results["docker"].Status)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	graph := mustGraph(t, Action{
		ID:      "slow",
		Timeout: 20 * time.Millisecond,
		Effect: &FuncEffect{
			Summary: "hang",
			Fn: func(ctx context.Context, _ *Env) (string, error) {
				<-ctx.Done()
				return "partial output", ctx.Err()
			},
		},
	})

	report, _ := NewExecutor(nil, nil, ExecutorOptions{}).Run(context.Background(), graph)
	res := report.Results["slow"]
	if res.Status != ActionStatusFailed {
		t.Fatalf("Expected failed, got %s", res.Status)
	}
	if !IsTimeout(res.Error) {
		t.Errorf("Expected TIMEOUT, got %v", res.Error)
	}
	if res.Diagnostic != "partial output" {
		t.Errorf("Expected diagnostic to be kept, got %q", res.Diagnostic)
	}
}

func TestExecutor_CancellationBetweenActions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var effectCtxErr error
	graph := mustGraph(t,
		Action{
			ID: "first",
			Effect: &FuncEffect{
				Summary: "cancel mid-effect",
				Fn: func(ectx context.Context, _ *Env) (string, error) {
					cancel()
					effectCtxErr = ectx.Err()
					return "", nil
				},
			},
		},
		act("second", "first"),
		act("third"),
	)

	report, err := NewExecutor(nil, nil, ExecutorOptions{}).Run(ctx, graph)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if effectCtxErr != nil {
		t.Errorf("A running effect must not observe caller cancellation, got %v", effectCtxErr)
	}
	if report.Results["first"].Status != ActionStatusSucceeded {
		t.Errorf("In-flight action should finish, got %s", report.Results["first"].Status)
	}
	for _, id := range []string{"second", "third"} {
		res := report.Results[id]
		if res.Status != ActionStatusFailed || res.Error.Code != ErrCodeCancelled {
			t.Errorf("%s: expected failed with CANCELLED, got %s %v", id, res.Status, res.Error)
		}
	}
	if report.Run.Status != RunStatusCancelled {
		t.Errorf("Expected cancelled run, got %s", report.Run.Status)
	}
}

func TestExecutor_RecoversEffectPanic(t *testing.T) {
	graph := mustGraph(t,
		Action{
			ID: "boom",
			Effect: &FuncEffect{
				Summary: "panic",
				Fn:      func(context.Context, *Env) (string, error) { panic("nil map") },
			},
		},
		act("after", "boom"),
	)

	report, _ := NewExecutor(nil, nil, ExecutorOptions{}).Run(context.Background(), graph)
	if report.Results["boom"].Status != ActionStatusFailed {
		t.Errorf("Expected failed, got %s", report.Results["boom"].Status)
	}
	if !strings.Contains(report.Results["boom"].Reason(), "panicked") {
		t.Errorf("Expected panic reason, got %q", report.Results["boom"].Reason())
	}
	if report.Results["after"].Error.Code != ErrCodeDependencyFailed {
		t.Errorf("Expected dependent to be short-circuited")
	}
}

func TestExecutor_PublishesEvents(t *testing.T) {
	host := newFakeHost()
	host.installed["docker"] = true
	pub := &recordingPublisher{}

	graph := mustGraph(t,
		host.action("docker"),
		host.action("daemon-config", "docker"),
	)
	report, _ := NewExecutor(nil, nil, ExecutorOptions{Publishers: []EventPublisher{pub}}).
		Run(context.Background(), graph)

	want := []EventType{
		EventTypeRunStarted,
		EventTypeActionSkipped,
		EventTypeActionStarted,
		EventTypeActionSucceeded,
		EventTypeRunCompleted,
	}
	got := pub.types()
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	for _, e := range pub.events {
		if e.RunID != report.Run.ID {
			t.Errorf("event %s has run ID %s, want %s", e.Type, e.RunID, report.Run.ID)
		}
	}
}

func TestExecutor_Plan(t *testing.T) {
	host := newFakeHost()
	host.installed["docker"] = true

	graph := mustGraph(t,
		host.action("docker"),
		host.action("daemon-config", "docker"),
	)

	plan, err := NewExecutor(nil, nil, ExecutorOptions{}).Plan(context.Background(), graph)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(host.appliedList()) != 0 {
		t.Errorf("Plan must not invoke effects, applied %v", host.appliedList())
	}
	if plan.Summary.Satisfied != 1 || plan.Summary.ToRun != 1 {
		t.Errorf("Unexpected plan summary: %+v", plan.Summary)
	}
	if plan.Actions[0].WillRun {
		t.Error("docker is already installed and should not run")
	}
	if plan.Actions[1].Effect != "install daemon-config" {
		t.Errorf("Expected effect description, got %q", plan.Actions[1].Effect)
	}
	if cmds := plan.AllCommands(); len(cmds) != 1 || cmds[0].String() != "apt-get install -y daemon-config" {
		t.Errorf("Unexpected planned commands: %v", cmds)
	}
}

func TestExecutor_NilGraph(t *testing.T) {
	if _, err := NewExecutor(nil, nil, ExecutorOptions{}).Run(context.Background(), nil); err == nil {
		t.Error("Expected error for nil graph")
	}
}
