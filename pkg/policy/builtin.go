package policy

// DefaultAllowedCommands are the executables planned actions may invoke
// without extra configuration.
var DefaultAllowedCommands = []string{
	"apt-get",
	"dnf",
	"docker",
	"dpkg-query",
	"nvidia-ctk",
	"nvidia-smi",
	"rpm",
	"sh",
	"systemctl",
	"yum",
	"zypper",
}

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		allowedCommandsPolicy(),
		noPipeToShellPolicy(),
		shellCommandsPolicy(),
	}
}

// allowedCommandsPolicy restricts actions to allowlisted executables.
func allowedCommandsPolicy() Policy {
	return Policy{
		Name:        "allowed-commands",
		Description: "Actions may only invoke allowlisted executables",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package hostprep.policies.commands

import rego.v1

allowed contains name if {
	some name in data.hostprep.config.allowed_commands
}

basename(path) := base if {
	parts := split(path, "/")
	base := parts[count(parts) - 1]
}

deny contains violation if {
	some action in input.actions
	some cmd in action.commands
	base := basename(cmd.name)
	not allowed[base]
	violation := {
		"message": sprintf("Action %s invokes %s, which is not an allowed command", [action.id, cmd.name]),
		"severity": "error",
		"action": action.id,
		"command": cmd.line,
	}
}
`,
	}
}

// noPipeToShellPolicy blocks downloading scripts straight into a shell.
func noPipeToShellPolicy() Policy {
	return Policy{
		Name:        "no-pipe-to-shell",
		Description: "Shell commands must not pipe downloads into an interpreter",
		Severity:    SeverityCritical,
		Enabled:     true,
		Rego: `package hostprep.policies.pipes

import rego.v1

shells := {"sh", "bash", "dash", "zsh"}

deny contains violation if {
	some action in input.actions
	some cmd in action.commands
	cmd.name in shells
	some arg in cmd.args
	regex.match("(curl|wget)[^|]*\\|\\s*(sudo\\s+)?(ba|da|z)?sh", arg)
	violation := {
		"message": sprintf("Action %s pipes a download into a shell", [action.id]),
		"severity": "critical",
		"action": action.id,
		"command": cmd.line,
	}
}
`,
	}
}

// shellCommandsPolicy flags free-form shell from configured rules for review.
func shellCommandsPolicy() Policy {
	return Policy{
		Name:        "shell-commands",
		Description: "Reports configured rules that run shell scripts",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package hostprep.policies.shell

import rego.v1

deny contains violation if {
	some action in input.actions
	action.labels.source == "config"
	some cmd in action.commands
	cmd.name == "sh"
	violation := {
		"message": sprintf("Action %s runs a shell script from configuration", [action.id]),
		"severity": "warning",
		"action": action.id,
		"command": cmd.line,
	}
}
`,
	}
}
