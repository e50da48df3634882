package config

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/openfroyo/hostprep/pkg/version"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// maxPredicateSteps bounds the work a single predicate may do.
const maxPredicateSteps = 100000

// StarlarkEvaluator evaluates rule predicates written in Starlark against host facts.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// EvaluatePredicate evaluates expr with a facts struct in scope and returns
// its boolean value. An empty expression is true.
//
//	facts.gpu_present and version_at_least(facts.cuda_version, "12.0")
func (se *StarlarkEvaluator) EvaluatePredicate(ctx context.Context, expr string, facts *engine.HostFacts) (bool, error) {
	if expr == "" {
		return true, nil
	}

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "hostprep",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(maxPredicateSteps)
	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(fmt.Sprintf("predicate evaluation timed out after %v", se.timeout))
	})
	defer stop()

	factsVal, err := factsStruct(facts)
	if err != nil {
		return false, err
	}
	predeclared := starlark.StringDict{
		"facts":            factsVal,
		"version_at_least": starlark.NewBuiltin("version_at_least", builtinVersionAtLeast),
	}

	globals, err := starlark.ExecFile(thread, "when.star", "result = ("+expr+"\n)\n", predeclared)
	if err != nil {
		return false, fmt.Errorf("starlark execution failed: %w", err)
	}

	result, ok := globals["result"].(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("predicate must evaluate to a bool, got %s", globals["result"].Type())
	}
	return bool(result), nil
}

// CheckPredicate reports syntax and name errors by evaluating expr against empty facts.
func (se *StarlarkEvaluator) CheckPredicate(ctx context.Context, expr string) error {
	_, err := se.EvaluatePredicate(ctx, expr, &engine.HostFacts{})
	return err
}

// factsStruct exposes HostFacts to Starlark as an immutable struct.
func factsStruct(f *engine.HostFacts) (starlark.Value, error) {
	if f == nil {
		f = &engine.HostFacts{}
	}

	fields := map[string]interface{}{
		"hostname":        f.Hostname,
		"arch":            f.Arch,
		"kernel":          f.Kernel,
		"os_id":           f.OS.ID,
		"os_version":      f.OS.VersionID,
		"os_family":       f.OS.Family,
		"package_manager": f.PackageManager,
		"gpu_present":     f.GPU.Present,
		"gpu_models":      stringList(f.GPUModels()),
		"driver_version":  f.GPU.DriverVersion,
		"cuda_version":    f.CUDAVersion(),
		"commands":        boolDict(f.Commands),
		"versions":        stringDict(f.Versions),
		"runtimes":        stringList(f.DockerRuntimes),
	}

	dict := make(starlark.StringDict, len(fields))
	for name, v := range fields {
		sv, err := toStarlarkValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to convert fact %s: %w", name, err)
		}
		dict[name] = sv
	}
	s := starlarkstruct.FromStringDict(starlarkstruct.Default, dict)
	s.Freeze()
	return s, nil
}

func stringList(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func boolDict(in map[string]bool) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stringDict(in map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// builtinVersionAtLeast implements version_at_least(v, minimum). An empty v
// is false; malformed versions are errors.
func builtinVersionAtLeast(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v, minimum string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "v", &v, "minimum", &minimum); err != nil {
		return nil, err
	}
	if v == "" {
		return starlark.False, nil
	}
	ok, err := version.AtLeast(v, minimum)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Bool(ok), nil
}
