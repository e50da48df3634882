package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// configSchema is unified with every configuration file. It closes the
// configuration (unknown fields are errors) and carries all defaults.
const configSchema = `
#Config: {
	// Lowest acceptable CUDA version.
	min_cuda_version: *"11.8" | (string & =~"^v?[0-9]+(\\.[0-9]+)*$")

	// Default per-action effect timeout.
	action_timeout: *"20m" | string

	sudo: *false | bool

	docker: {
		daemon_config:   *"/etc/docker/daemon.json" | string
		default_runtime: *false | bool
		restart:         *true | bool
		backup:          *true | bool
		settings:        *{} | {[string]: _}
	}

	packages: {
		driver: {
			apt:    *["cuda-drivers"] | [...string]
			dnf:    *["cuda-drivers"] | [...string]
			yum:    *["cuda-drivers"] | [...string]
			zypper: *["cuda-drivers"] | [...string]
			[string]: [...string]
		}
		cuda: {
			apt:    *["cuda-toolkit"] | [...string]
			dnf:    *["cuda-toolkit"] | [...string]
			yum:    *["cuda-toolkit"] | [...string]
			zypper: *["cuda-toolkit"] | [...string]
			[string]: [...string]
		}
		docker: {
			apt:    *["docker.io", "docker-compose-v2"] | [...string]
			dnf:    *["docker-ce", "docker-ce-cli", "containerd.io", "docker-compose-plugin"] | [...string]
			yum:    *["docker-ce", "docker-ce-cli", "containerd.io", "docker-compose-plugin"] | [...string]
			zypper: *["docker", "docker-compose"] | [...string]
			[string]: [...string]
		}
		toolkit: {
			apt:    *["nvidia-container-toolkit"] | [...string]
			dnf:    *["nvidia-container-toolkit"] | [...string]
			yum:    *["nvidia-container-toolkit"] | [...string]
			zypper: *["nvidia-container-toolkit"] | [...string]
			[string]: [...string]
		}
	}

	rules: *[] | [...#Rule]

	policy: {
		enabled:          *true | bool
		paths:            *[] | [...string]
		allowed_commands: *[] | [...string]
	}

	history: {
		state_db: *"" | string
	}

	telemetry: {
		log_level:    *"info" | "debug" | "warn" | "error"
		log_format:   *"console" | "json"
		metrics_file: *"" | string
		tracing: {
			exporter: *"none" | "stdout" | "otlp"
			endpoint: *"" | string
		}
	}

	target: {
		host:        *"" | string
		user:        *"root" | string
		port:        *22 | (int & >0 & <65536)
		key_path:    *"" | string
		known_hosts: *"" | string
		insecure:    *false | bool
	}
}

#Rule: {
	id:          string & =~"^[a-z0-9][a-z0-9._-]*$"
	description: *"" | string
	when:        *"" | string
	after:       *[] | [...string]
	check:       string & !=""
	commands:    [string, ...string]
	verify:      *"" | string
	timeout:     *"" | string
}
`

// compileSchema compiles the configuration schema and returns #Config.
func (cp *CUEParser) compileSchema() (cue.Value, error) {
	val := cp.ctx.CompileString(configSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to look up #Config: %w", err)
	}
	return def, nil
}
