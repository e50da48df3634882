package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// setupTestStore creates a migrated SQLite store in a temp directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	for _, table := range []string{"runs", "action_results"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// A second migration is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("re-running migrations failed: %v", err)
	}
}

func TestRunRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run := &engine.Run{
		ID:        "run-001",
		Host:      "gpu01",
		Status:    engine.RunStatusRunning,
		Force:     true,
		StartedAt: started,
		Facts:     &engine.HostFacts{Hostname: "gpu01", PackageManager: "apt"},
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != engine.RunStatusRunning || !got.Force || got.DryRun || got.CompletedAt != nil {
		t.Errorf("unexpected run: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.Facts == "{}" || got.Facts == "" {
		t.Errorf("facts were not stored: %q", got.Facts)
	}

	completed := started.Add(90 * time.Second)
	run.Status = engine.RunStatusPartial
	run.CompletedAt = &completed
	run.Duration = 90 * time.Second
	run.Summary = engine.RunSummary{Total: 3, Succeeded: 1, Skipped: 1, Failed: 1}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != engine.RunStatusPartial || got.Summary != run.Summary {
		t.Errorf("run not updated: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
	}
	if got.Duration != 90*time.Second {
		t.Errorf("Duration = %v", got.Duration)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, host := range []string{"gpu01", "gpu02", "gpu01"} {
		run := &engine.Run{
			ID:        "run-" + string(rune('a'+i)),
			Host:      host,
			Status:    engine.RunStatusSucceeded,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("failed to save run: %v", err)
		}
	}

	all, err := store.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(all) != 3 || all[0].ID != "run-c" || all[2].ID != "run-a" {
		t.Errorf("runs not newest first: %v", runIDs(all))
	}

	gpu01, err := store.ListRuns(ctx, RunFilter{Host: "gpu01", Limit: 1})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(gpu01) != 1 || gpu01[0].ID != "run-c" {
		t.Errorf("filtered runs = %v, want [run-c]", runIDs(gpu01))
	}
}

func runIDs(runs []*RunRecord) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

func TestPublish_RecordsExecution(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ok := func(context.Context, *engine.Env) (string, error) { return "done", nil }
	fail := func(context.Context, *engine.Env) (string, error) { return "E: broken", errors.New("exit status 100") }
	g, err := engine.BuildGraph([]engine.Action{
		{ID: "docker.engine", Effect: &engine.FuncEffect{Summary: "install docker", Fn: ok}},
		{ID: "nvidia.toolkit", Effect: &engine.FuncEffect{Summary: "install toolkit", Fn: fail}, Dependencies: []string{"docker.engine"}},
		{ID: "docker.daemon-config", Effect: &engine.FuncEffect{Summary: "patch", Fn: ok}, Dependencies: []string{"nvidia.toolkit"}},
	})
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}

	exec := engine.NewExecutor(nil, &engine.HostFacts{Hostname: "gpu01"}, engine.ExecutorOptions{
		Host:       "gpu01",
		Publishers: []engine.EventPublisher{store},
	})
	report, err := exec.Run(ctx, g)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	run, err := store.GetRun(ctx, report.Run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Status != engine.RunStatusPartial || run.Summary.Failed != 2 || run.CompletedAt == nil {
		t.Errorf("run = %+v", run)
	}

	records, err := store.ListActionResults(ctx, report.Run.ID)
	if err != nil {
		t.Fatalf("failed to list action results: %v", err)
	}
	want := []struct {
		id     string
		status engine.ActionStatus
		code   string
	}{
		{"docker.engine", engine.ActionStatusSucceeded, ""},
		{"nvidia.toolkit", engine.ActionStatusFailed, engine.ErrCodeActionFailed},
		{"docker.daemon-config", engine.ActionStatusFailed, engine.ErrCodeDependencyFailed},
	}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i, w := range want {
		r := records[i]
		if r.ActionID != w.id || r.Status != w.status || r.ErrorCode != w.code || r.Seq != i+1 {
			t.Errorf("record %d = %+v, want %s %s %s", i, r, w.id, w.status, w.code)
		}
	}
	if records[1].Diagnostic != "E: broken" {
		t.Errorf("diagnostic = %q", records[1].Diagnostic)
	}

	last, err := store.LastResult(ctx, "gpu01", "nvidia.toolkit")
	if err != nil {
		t.Fatalf("LastResult() error = %v", err)
	}
	if last.RunID != report.Run.ID || last.Status != engine.ActionStatusFailed {
		t.Errorf("LastResult() = %+v", last)
	}
	if _, err := store.LastResult(ctx, "other", "nvidia.toolkit"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LastResult(other) error = %v, want ErrNotFound", err)
	}
}
