package hostexec

import (
	"context"
	"strings"

	"github.com/openfroyo/hostprep/pkg/engine"
)

// EnableNow returns the command that enables and starts a systemd unit.
func EnableNow(unit string) engine.Command {
	return engine.NewCommand("systemctl", "enable", "--now", unit)
}

// Restart returns the command that restarts a systemd unit.
func Restart(unit string) engine.Command {
	return engine.NewCommand("systemctl", "restart", unit)
}

// ServiceStatus is the observed state of a systemd unit.
type ServiceStatus struct {
	Active   string
	Enabled  bool
	SubState string
}

// GetServiceStatus queries systemctl for a unit's state. Missing units report
// an empty active state rather than an error.
func GetServiceStatus(ctx context.Context, runner engine.Runner, unit string) ServiceStatus {
	var st ServiceStatus

	// is-active and is-enabled exit non-zero for inactive units but still print the state.
	if out, _ := runner.Run(ctx, engine.NewCommand("systemctl", "is-active", unit)); out != nil {
		st.Active = strings.TrimSpace(out.Stdout)
	}
	if out, _ := runner.Run(ctx, engine.NewCommand("systemctl", "is-enabled", unit)); out != nil {
		st.Enabled = strings.TrimSpace(out.Stdout) == "enabled"
	}
	if out, err := runner.Run(ctx, engine.NewCommand("systemctl", "show", unit, "--property=SubState", "--value")); err == nil {
		st.SubState = strings.TrimSpace(out.Stdout)
	}
	return st
}

// ServiceRunning holds when the unit is enabled and active.
func ServiceRunning(unit string) engine.Condition {
	return func(ctx context.Context, env *engine.Env) (bool, error) {
		st := GetServiceStatus(ctx, env.Runner, unit)
		return st.Enabled && st.Active == "active", nil
	}
}
