package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/openfroyo/hostprep/pkg/stores"
)

// diagnosticLines is how much captured output is shown under a failed action.
const diagnosticLines = 8

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	ok      lipgloss.Style
	skipped lipgloss.Style
	failed  lipgloss.Style
	hint    lipgloss.Style
}

func newStyles(plain bool) styles {
	if plain {
		s := lipgloss.NewStyle()
		return styles{title: s, header: s.Padding(0, 1), cell: s.Padding(0, 1), ok: s, skipped: s, failed: s, hint: s}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00d7ff")),
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffd700")).Padding(0, 1),
		cell:    lipgloss.NewStyle().Padding(0, 1),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("#87d7af")),
		skipped: lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
		failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true),
		hint:    lipgloss.NewStyle().Foreground(lipgloss.Color("#5fafff")),
	}
}

// status picks the style for an action, run or plan state. Action and run
// statuses share their spelling.
func (s styles) status(status string) lipgloss.Style {
	switch status {
	case "succeeded", "run":
		return s.ok
	case "skipped", "satisfied":
		return s.skipped
	case "failed", "partial", "cancelled", "error":
		return s.failed
	}
	return lipgloss.NewStyle()
}

// newTable builds a bordered table with a highlighted header row.
func (s styles) newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return s.cell
		})
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderReport prints the per-action summary of a run, followed by the
// captured output of each failed action.
func renderReport(w io.Writer, report *engine.Report, plain bool) {
	s := newStyles(plain)
	t := s.newTable("ACTION", "STATUS", "DURATION", "REASON")

	results := report.Ordered()
	for _, r := range results {
		status := string(r.Status)
		if r.Forced {
			status += " (forced)"
		}
		t.Row(r.ActionID, s.status(string(r.Status)).Render(status), formatDuration(r.Duration), r.Reason())
	}

	run := report.Run
	fmt.Fprintln(w, s.title.Render(fmt.Sprintf("Run %s on %s", run.ID, run.Host)))
	fmt.Fprintln(w, t.String())

	for _, r := range results {
		if r.Status != engine.ActionStatusFailed || r.Diagnostic == "" {
			continue
		}
		fmt.Fprintln(w, s.failed.Render(r.ActionID+" output:"))
		for _, line := range tail(r.Diagnostic, diagnosticLines) {
			fmt.Fprintln(w, "  "+line)
		}
	}

	sum := run.Summary
	fmt.Fprintln(w, s.status(string(run.Status)).Render(fmt.Sprintf(
		"%s: %d succeeded, %d skipped, %d failed in %s",
		run.Status, sum.Succeeded, sum.Skipped, sum.Failed, formatDuration(run.Duration),
	)))
}

// renderPlan prints what a real run would do.
func renderPlan(w io.Writer, plan *engine.Plan, plain bool) {
	s := newStyles(plain)
	t := s.newTable("ACTION", "PLAN", "EFFECT")

	for _, a := range plan.Actions {
		state := "satisfied"
		detail := a.Effect
		switch {
		case a.Error != nil:
			state = "error"
			detail = a.Error.Error()
		case a.WillRun && a.Satisfied:
			state = "run"
			detail += " (forced)"
		case a.WillRun:
			state = "run"
		}
		t.Row(a.ActionID, s.status(state).Render(state), detail)
	}

	fmt.Fprintln(w, s.title.Render("Planned actions"))
	fmt.Fprintln(w, t.String())

	if cmds := plan.AllCommands(); len(cmds) > 0 {
		fmt.Fprintln(w, s.hint.Render("Commands that would run:"))
		for _, c := range cmds {
			fmt.Fprintln(w, "  "+c.String())
		}
	}

	sum := plan.Summary
	fmt.Fprintf(w, "%d to run, %d satisfied, %d errors\n", sum.ToRun, sum.Satisfied, sum.Errors)
}

// renderFacts prints the host facts as a two-column table.
func renderFacts(w io.Writer, f *engine.HostFacts, plain bool) {
	s := newStyles(plain)
	t := s.newTable("FACT", "VALUE")
	for _, row := range factRows(f) {
		t.Row(row[0], row[1])
	}
	fmt.Fprintln(w, s.title.Render("Host facts for "+f.Hostname))
	fmt.Fprintln(w, t.String())
}

func factRows(f *engine.HostFacts) [][2]string {
	rows := [][2]string{
		{"os", orDash(f.OS.PrettyName)},
		{"os.family", orDash(f.OS.Family)},
		{"kernel", orDash(f.Kernel)},
		{"arch", orDash(f.Arch)},
		{"package_manager", orDash(f.PackageManager)},
		{"gpu.present", fmt.Sprint(f.GPU.Present)},
		{"gpu.driver", orDash(f.GPU.DriverVersion)},
		{"gpu.cuda", orDash(f.CUDAVersion())},
		{"gpu.source", orDash(f.GPU.Source)},
	}
	for _, d := range f.GPU.Devices {
		rows = append(rows, [2]string{fmt.Sprintf("gpu.%d", d.Index), fmt.Sprintf("%s %s", d.Name, d.PCIAddress)})
	}
	rows = append(rows, [2]string{"docker.runtimes", orDash(strings.Join(f.DockerRuntimes, ", "))})
	for _, name := range f.CommandNames() {
		rows = append(rows, [2]string{"command." + name, orDash(f.Version(name))})
	}
	return rows
}

// renderHistory prints stored runs, newest first.
func renderHistory(w io.Writer, runs []*stores.RunRecord, plain bool) {
	s := newStyles(plain)
	t := s.newTable("RUN", "HOST", "STARTED", "STATUS", "OK", "SKIPPED", "FAILED", "DURATION")
	for _, r := range runs {
		t.Row(
			r.ID,
			r.Host,
			r.StartedAt.Local().Format(time.DateTime),
			s.status(string(r.Status)).Render(string(r.Status)),
			fmt.Sprint(r.Summary.Succeeded),
			fmt.Sprint(r.Summary.Skipped),
			fmt.Sprint(r.Summary.Failed),
			formatDuration(r.Duration),
		)
	}
	fmt.Fprintln(w, t.String())
}

// renderRunDetail prints the stored results of a single run.
func renderRunDetail(w io.Writer, run *stores.RunRecord, actions []*stores.ActionRecord, plain bool) {
	s := newStyles(plain)
	t := s.newTable("ACTION", "STATUS", "DURATION", "REASON")
	for _, a := range actions {
		reason := a.ErrorMessage
		if a.ErrorCode != "" {
			reason = a.ErrorCode + ": " + reason
		}
		t.Row(a.ActionID, s.status(string(a.Status)).Render(string(a.Status)), formatDuration(a.Duration), reason)
	}
	fmt.Fprintln(w, s.title.Render(fmt.Sprintf("Run %s on %s (%s)", run.ID, run.Host, run.Status)))
	fmt.Fprintln(w, t.String())
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}

func tail(text string, n int) []string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
