package facts

import (
	"context"
	"strings"

	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/openfroyo/hostprep/pkg/version"
)

// ProbedCommands are the commands whose presence is recorded in HostFacts.Commands.
var ProbedCommands = []string{
	"nvidia-smi",
	"nvcc",
	"docker",
	"docker-compose",
	"nvidia-ctk",
	"nvidia-container-toolkit",
	"systemctl",
	"lspci",
}

// ComposeKey is the pseudo-command recorded when either the compose plugin
// or the standalone docker-compose binary works.
const ComposeKey = "compose"

// CommandPresent reports whether name resolves on the host's PATH.
func CommandPresent(ctx context.Context, r engine.Runner, name string) bool {
	_, err := r.Run(ctx, engine.NewCommand("sh", "-c", "command -v "+name))
	return err == nil
}

// output runs cmd and returns its trimmed stdout, or "" on any failure.
func output(ctx context.Context, r engine.Runner, cmd engine.Command) string {
	out, err := r.Run(ctx, cmd)
	if err != nil || out == nil {
		return ""
	}
	return strings.TrimSpace(out.Stdout)
}

// ProbeDriver returns the NVIDIA driver version and the CUDA version text
// reported by nvidia-smi. Empty strings mean nvidia-smi is unavailable.
func ProbeDriver(ctx context.Context, r engine.Runner) (driver, cuda string) {
	text := output(ctx, r, engine.NewCommand("nvidia-smi"))
	if text == "" {
		return "", ""
	}
	return FieldAfter(text, "Driver Version:"), FieldAfter(text, "CUDA Version:")
}

// ProbeToolkitVersion returns the nvcc release text, e.g. "12.2".
func ProbeToolkitVersion(ctx context.Context, r engine.Runner) string {
	text := output(ctx, r, engine.NewCommand("nvcc", "--version"))
	if text == "" {
		// nvcc is often installed outside PATH by the CUDA packages.
		text = output(ctx, r, engine.NewCommand("/usr/local/cuda/bin/nvcc", "--version"))
	}
	return FieldAfter(text, "release")
}

// ProbeCUDAVersion returns the CUDA version text the host currently offers:
// the driver-reported version when nvidia-smi works, else the nvcc release.
// The text is not interpreted; callers parse it and handle malformed values.
func ProbeCUDAVersion(ctx context.Context, r engine.Runner) string {
	if _, cuda := ProbeDriver(ctx, r); cuda != "" {
		return cuda
	}
	return ProbeToolkitVersion(ctx, r)
}

// ProbeCompose returns the compose version and whether compose works,
// preferring the docker CLI plugin over the standalone binary.
func ProbeCompose(ctx context.Context, r engine.Runner) (string, bool) {
	if text := output(ctx, r, engine.NewCommand("docker", "compose", "version", "--short")); text != "" {
		return text, true
	}
	if text := output(ctx, r, engine.NewCommand("docker-compose", "--version")); text != "" {
		return extractVersion(text), true
	}
	return "", false
}

// DockerInfoCommand asks the running daemon for its runtimes as JSON.
func DockerInfoCommand() engine.Command {
	return engine.NewCommand("docker", "info", "--format", dockerInfoFormat)
}

// DockerRuntimes asks the docker CLI for the daemon's registered runtimes.
func DockerRuntimes(ctx context.Context, r engine.Runner) ([]string, string, error) {
	out, err := r.Run(ctx, DockerInfoCommand())
	if err != nil {
		return nil, "", err
	}
	return ParseDockerInfo(out.Stdout)
}

// ProbeVersion runs a tool's version command and returns the first dotted
// version in its output.
func ProbeVersion(ctx context.Context, r engine.Runner, cmd engine.Command) string {
	return extractVersion(output(ctx, r, cmd))
}

// extractVersion normalizes free-form tool output to its version, or "":
// "Docker version 24.0.7, build afdd53b" -> "24.0.7".
func extractVersion(text string) string {
	v, err := version.Extract(text)
	if err != nil {
		return ""
	}
	return v.String()
}
