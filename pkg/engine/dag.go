package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is a validated, acyclic set of actions with a fixed execution order.
type Graph struct {
	// actions maps action IDs to their actions
	actions map[string]*Action

	// declared keeps IDs in declaration order
	declared []string

	// dependents maps action IDs to the actions that depend on them
	dependents map[string][]string

	// order is the topological execution order
	order []string

	// levels groups actions by depth in the graph
	levels [][]string
}

// BuildGraph validates the actions and computes their execution order.
//
// It rejects empty or duplicate IDs and dependencies on unknown actions,
// detects cycles (reporting the cycle path), and sorts topologically with
// ties broken by declaration order so the order is stable across runs.
func BuildGraph(actions []Action) (*Graph, error) {
	g := &Graph{
		actions:    make(map[string]*Action, len(actions)),
		declared:   make([]string, 0, len(actions)),
		dependents: make(map[string][]string, len(actions)),
	}

	if err := g.initialize(actions); err != nil {
		return nil, err
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	if err := g.computeOrder(); err != nil {
		return nil, err
	}

	return g, nil
}

// initialize indexes actions and validates their dependencies.
func (g *Graph) initialize(actions []Action) error {
	for i := range actions {
		action := actions[i]
		if action.ID == "" {
			return NewValidationError("action has empty ID")
		}
		if _, exists := g.actions[action.ID]; exists {
			return NewValidationError(fmt.Sprintf("duplicate action ID: %s", action.ID))
		}
		if action.Effect == nil {
			return NewValidationError(fmt.Sprintf("action %s has no effect", action.ID)).
				WithAction(action.ID)
		}
		action.Dependencies = append([]string(nil), action.Dependencies...)
		g.actions[action.ID] = &action
		g.declared = append(g.declared, action.ID)
		g.dependents[action.ID] = make([]string, 0)
	}

	for _, id := range g.declared {
		action := g.actions[id]
		seen := make(map[string]bool, len(action.Dependencies))
		for _, dep := range action.Dependencies {
			if _, exists := g.actions[dep]; !exists {
				return NewValidationError(
					fmt.Sprintf("action %s depends on non-existent action %s", id, dep),
				).WithAction(id)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (g *Graph) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string, path []string) []string
	visit = func(id string, path []string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, next := range g.dependents[id] {
			if !visited[next] {
				if cycle := visit(next, path); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				for i, p := range path {
					if p == next {
						cycle := append([]string(nil), path[i:]...)
						return append(cycle, next)
					}
				}
			}
		}

		onStack[id] = false
		return nil
	}

	for _, id := range g.declared {
		if visited[id] {
			continue
		}
		if cycle := visit(id, nil); cycle != nil {
			return NewCyclicDependencyError(cycle)
		}
	}

	return nil
}

// computeOrder runs Kahn's algorithm, always picking the earliest declared
// ready action, and records the depth level of each action.
func (g *Graph) computeOrder() error {
	position := make(map[string]int, len(g.declared))
	for i, id := range g.declared {
		position[id] = i
	}

	inDegree := make(map[string]int, len(g.actions))
	level := make(map[string]int, len(g.actions))
	ready := make([]string, 0)
	for _, id := range g.declared {
		for _, next := range g.dependents[id] {
			inDegree[next]++
		}
	}
	for _, id := range g.declared {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	g.order = make([]string, 0, len(g.declared))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		id := ready[0]
		ready = ready[1:]
		g.order = append(g.order, id)

		for _, next := range g.dependents[id] {
			if level[id]+1 > level[next] {
				level[next] = level[id] + 1
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	// Unreachable when cycle detection passed.
	if len(g.order) != len(g.declared) {
		return NewFatalError("failed to order all actions - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}

	depth := 0
	for _, l := range level {
		if l+1 > depth {
			depth = l + 1
		}
	}
	g.levels = make([][]string, depth)
	for _, id := range g.order {
		g.levels[level[id]] = append(g.levels[level[id]], id)
	}

	return nil
}

// Len returns the number of actions.
func (g *Graph) Len() int {
	return len(g.order)
}

// Order returns action IDs in execution order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Action returns the action with the given ID.
func (g *Graph) Action(id string) (*Action, bool) {
	a, ok := g.actions[id]
	return a, ok
}

// Has reports whether the graph contains the action.
func (g *Graph) Has(id string) bool {
	_, ok := g.actions[id]
	return ok
}

// Dependents returns the IDs of actions that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Levels returns action IDs grouped by depth; level 0 has no dependencies.
func (g *Graph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, l := range g.levels {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// Actions returns the actions in execution order.
func (g *Graph) Actions() []*Action {
	out := make([]*Action, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.actions[id])
	}
	return out
}

// ToDOT generates a DOT format representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ActionGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			action := g.actions[id]
			label := escapeDOT(id)
			if action.Description != "" {
				label += `\n` + escapeDOT(action.Description)
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\"];\n", escapeDOT(id), label))
		}

		sb.WriteString("  }\n\n")
	}

	for _, id := range g.order {
		for _, dep := range g.actions[id].Dependencies {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", escapeDOT(dep), escapeDOT(id)))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

// dotEscaper makes s safe inside a double-quoted DOT ID.
var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", "")

func escapeDOT(s string) string {
	return dotEscaper.Replace(s)
}
