// Package policy gates provisioning runs with Open Policy Agent (OPA).
//
// Before any action runs, the planned graph is rendered into an Input
// document (every action with the external commands its effect may invoke)
// and evaluated against Rego policies. Each policy package defines a deny
// set; members are strings or objects with message, severity, action and
// command fields.
//
// # Usage
//
//	eng, err := policy.NewEngine(ctx, logger, cfg.Policy.AllowedCommands)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
//	    return err
//	}
//	if _, err := eng.Gate(ctx, graph, "localhost", false); err != nil {
//	    return err // POLICY_DENIED
//	}
//
// # Built-in Policies
//
//  1. allowed-commands - effects may only invoke allowlisted executables
//     (DefaultAllowedCommands plus policy.allowed_commands from the config)
//  2. no-pipe-to-shell - shell commands must not pipe curl or wget into sh
//  3. shell-commands - warns about configured rules that run shell scripts
//
// The allowlist is available to every policy as
// data.hostprep.config.allowed_commands.
//
// # Custom Policies
//
//	# No driver installs on the edge host.
//	package site.policies.arch
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.host == "edge-01"
//	    some action in input.actions
//	    action.id == "gpu.driver"
//	    violation := {"message": "no driver installs on edge-01", "severity": "error"}
//	}
//
// # Severity Levels
//
// error and critical violations deny the run; info and warning are logged.
// In dry-run mode Gate reports violations without denying.
package policy
