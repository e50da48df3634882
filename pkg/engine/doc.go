// Package engine provides the core types of the hostprep provisioning engine.
//
// # Overview
//
// A provisioning run has four phases:
//
//  1. Facts - collect host facts once (see package facts)
//  2. Graph - materialize applicable rules into actions and order them (BuildGraph)
//  3. Execute - walk the graph sequentially, skipping satisfied actions (Executor)
//  4. Report - one ActionResult per action, summarized into a Run
//
// # Actions
//
// An Action pairs an Effect with a Precondition and a Postcondition:
//
//	engine.Action{
//	    ID:           "docker.engine",
//	    Precondition: engine.CommandSucceeds(engine.NewCommand("docker", "--version")),
//	    Effect:       engine.RunCommands(engine.NewCommand("apt-get", "install", "-y", "docker.io")),
//	    Dependencies: []string{"apt.refresh"},
//	}
//
// When the precondition already holds the action is Skipped without side
// effects, which makes re-running a whole graph safe. Otherwise the effect runs
// and the postcondition (falling back to the precondition) decides between
// Succeeded and Failed.
//
// # Failure Propagation
//
// A Failed action marks every transitive dependent Failed with code
// DEPENDENCY_FAILED; their effects are never invoked. Independent branches of
// the graph keep running. The executor never retries; re-running the engine
// after remediation skips everything that already converged.
//
// # Error Classification
//
// Errors carry a class and a code:
//
//   - Fatal: aborts the run before execution (FACT_UNAVAILABLE, CYCLIC_DEPENDENCY, POLICY_DENIED)
//   - Action: local to one action and its dependents (ACTION_FAILED, TIMEOUT, MALFORMED_VERSION, CONFIG_IO)
//
// Use the helpers to inspect them:
//
//	if engine.IsTimeout(result.Error) {
//	    // effect exceeded its deadline
//	}
package engine
