// Package config loads the hostprep configuration.
//
// Configuration is written in CUE and unified with an embedded schema that
// closes the structure and supplies defaults, so an empty file (or no file
// at all) is a complete configuration:
//
//	min_cuda_version: "12.0"
//	docker: {
//	    default_runtime: true
//	    settings: "log-driver": "journald"
//	}
//	rules: [{
//	    id:       "nvidia.persistenced"
//	    when:     "facts.gpu_present"
//	    after:    ["gpu.driver"]
//	    check:    "systemctl is-active --quiet nvidia-persistenced"
//	    commands: ["systemctl enable --now nvidia-persistenced"]
//	}]
//
// After decoding, HOSTPREP_* environment variables override file values and
// the result is checked with struct validation. Command-line flags are
// applied last by the CLI.
//
// User rule predicates ("when") are Starlark expressions evaluated by
// StarlarkEvaluator with a read-only facts struct and a version_at_least
// builtin in scope.
package config
