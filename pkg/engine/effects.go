package engine

import (
	"context"
	"strings"
)

// CommandEffect runs a fixed list of commands in order, stopping at the first failure.
type CommandEffect struct {
	// Summary overrides the generated description when set.
	Summary string

	// Steps are the commands to run.
	Steps []Command
}

// RunCommands creates a CommandEffect from the given commands.
func RunCommands(cmds ...Command) *CommandEffect {
	return &CommandEffect{Steps: cmds}
}

// Describe implements Effect.
func (e *CommandEffect) Describe() string {
	if e.Summary != "" {
		return e.Summary
	}
	lines := make([]string, 0, len(e.Steps))
	for _, c := range e.Steps {
		lines = append(lines, c.String())
	}
	return "run: " + strings.Join(lines, " && ")
}

// Commands implements Effect.
func (e *CommandEffect) Commands() []Command {
	return append([]Command(nil), e.Steps...)
}

// Apply implements Effect.
func (e *CommandEffect) Apply(ctx context.Context, env *Env) (string, error) {
	var out strings.Builder
	for _, cmd := range e.Steps {
		res, err := env.Runner.Run(ctx, cmd)
		if text := res.Combined(); text != "" {
			if out.Len() > 0 {
				out.WriteString("\n")
			}
			out.WriteString(text)
		}
		if err != nil {
			return out.String(), err
		}
	}
	return out.String(), nil
}

// FuncEffect adapts a function into an Effect.
type FuncEffect struct {
	Summary string
	Invokes []Command
	Fn      func(ctx context.Context, env *Env) (string, error)
}

// Describe implements Effect.
func (e *FuncEffect) Describe() string { return e.Summary }

// Commands implements Effect.
func (e *FuncEffect) Commands() []Command { return append([]Command(nil), e.Invokes...) }

// Apply implements Effect.
func (e *FuncEffect) Apply(ctx context.Context, env *Env) (string, error) {
	return e.Fn(ctx, env)
}

// CommandSucceeds holds when the command exits zero.
func CommandSucceeds(cmd Command) Condition {
	return func(ctx context.Context, env *Env) (bool, error) {
		_, err := env.Runner.Run(ctx, cmd)
		if err != nil {
			if IsTimeout(err) {
				return false, err
			}
			return false, nil
		}
		return true, nil
	}
}

// All holds when every condition holds. Evaluation stops at the first false or error.
func All(conds ...Condition) Condition {
	return func(ctx context.Context, env *Env) (bool, error) {
		for _, c := range conds {
			ok, err := c(ctx, env)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Not negates a condition. Errors pass through.
func Not(c Condition) Condition {
	return func(ctx context.Context, env *Env) (bool, error) {
		ok, err := c(ctx, env)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}

// Always is a condition that always holds.
func Always(context.Context, *Env) (bool, error) { return true, nil }
