package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/rs/zerolog"
)

const noDriverRego = `# Driver installs are managed by the image pipeline.
package site.policies.driver

import rego.v1

deny contains violation if {
	some action in input.actions
	action.id == "gpu.driver"
	violation := {"message": "driver installs are not allowed", "action": action.id}
}
`

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoader_LoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "no-driver.rego", noDriverRego)
	writePolicy(t, dir, "nested/notice.json", `{
  "name": "notice",
  "severity": "info",
  "rego": "package site.policies.notice\nimport rego.v1\ndeny contains \"planned\" if { count(input.actions) > 0 }\n"
}`)
	writePolicy(t, dir, "README.md", "ignored")

	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("loaded %d policies, want 2", len(policies))
	}

	byName := make(map[string]Policy)
	for _, p := range policies {
		byName[p.Name] = p
	}

	rego := byName["no-driver"]
	if rego.Description != "Driver installs are managed by the image pipeline." {
		t.Errorf("Description = %q", rego.Description)
	}
	if rego.Severity != SeverityError || !rego.Enabled || rego.Source == "" {
		t.Errorf("rego policy = %+v", rego)
	}

	notice := byName["notice"]
	if notice.Severity != SeverityInfo || !notice.Enabled {
		t.Errorf("json policy = %+v", notice)
	}
}

func TestLoader_Errors(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "missing.rego")}); err == nil {
		t.Error("missing path should fail")
	}

	dir := t.TempDir()
	writePolicy(t, dir, "broken.json", `{"name": `)
	if _, err := loader.LoadFromPaths(context.Background(), []string{dir}); err == nil {
		t.Error("malformed JSON policy should fail")
	}

	dir = t.TempDir()
	writePolicy(t, dir, "anonymous.json", `{"rego": "package x"}`)
	if _, err := loader.LoadFromPaths(context.Background(), []string{dir}); err == nil {
		t.Error("JSON policy without a name should fail")
	}
}

func TestEngine_LoadPolicies(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "no-driver.rego", noDriverRego)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	g := graphOf(t, commandAction("gpu.driver", engine.NewCommand("apt-get", "install", "-y", "cuda-drivers")))
	result, err := eng.Evaluate(context.Background(), InputFromGraph(g, "localhost", false))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("custom policy should deny gpu.driver")
	}
	if v := result.Violations[0]; v.Policy != "no-driver" || v.Severity != SeverityError {
		t.Errorf("violation = %+v", v)
	}

	bad := writePolicy(t, dir, "bad.rego", "package broken\ndeny contains x if {")
	if err := eng.LoadPolicies(context.Background(), []string{bad}); err == nil {
		t.Error("unparseable policy should fail to load")
	}
}
