// Package report renders runs, plans and the action table for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/codex-k8s/shipctl/internal/history"
	"github.com/codex-k8s/shipctl/internal/pipeline"
)

// Printer renders to one writer. Colors are dropped when w is not a terminal.
type Printer struct {
	w io.Writer
	r *lipgloss.Renderer

	header  lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	skipped lipgloss.Style
	detail  lipgloss.Style
}

// New returns a Printer for w.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:       w,
		r:       r,
		header:  r.NewStyle().Bold(true),
		ok:      r.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		warn:    r.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
		fail:    r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		skipped: r.NewStyle().Foreground(lipgloss.Color("#999999")),
		detail:  r.NewStyle().Foreground(lipgloss.Color("#A0AEC0")),
	}
}

func (p *Printer) cell(s string, width int) string {
	return p.r.NewStyle().Width(width).Render(s)
}

func (p *Printer) outcome(o pipeline.Outcome) string {
	switch o {
	case pipeline.OutcomeSucceeded:
		return p.ok.Render(string(o))
	case pipeline.OutcomeWarned:
		return p.warn.Render(string(o))
	case pipeline.OutcomeFailed:
		return p.fail.Render(string(o))
	default:
		return p.skipped.Render(string(o))
	}
}

func (p *Printer) status(s pipeline.Status) string {
	switch s {
	case pipeline.StatusSucceeded:
		return p.ok.Render(string(s))
	case pipeline.StatusSucceededWithWarning:
		return p.warn.Render(string(s))
	default:
		return p.fail.Render(string(s))
	}
}

// Run prints the summary of a finished run.
func (p *Printer) Run(run *pipeline.Run) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s  %s\n",
		p.header.Render("run"), run.ID, string(run.Action), p.status(run.Status))
	rows := append(append([]pipeline.StageResult(nil), run.Stages...), run.Epilogue)
	for _, r := range rows {
		if r.Stage == "" {
			continue
		}
		line := "  " + p.cell(string(r.Stage), 20) + p.cell(p.outcome(r.Outcome), 12) + p.cell(formatDuration(r.Duration), 10)
		if r.Error != "" {
			line += p.detail.Render(firstLine(r.Error))
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	if run.FailedStage != "" {
		fmt.Fprintf(&b, "%s %s\n", p.fail.Render("failed at"), run.FailedStage)
	}
	if run.Error != "" && run.FailedStage == "" {
		fmt.Fprintf(&b, "%s %s\n", p.fail.Render("error"), run.Error)
	}
	for _, k := range sortedKeys(run.Outputs) {
		fmt.Fprintf(&b, "  %s %s\n", p.detail.Render(k+":"), run.Outputs[k])
	}
	fmt.Fprintf(&b, "%s %s\n", p.detail.Render("duration"), formatDuration(run.Duration()))
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Plan prints the stages an action would run, in order.
func (p *Printer) Plan(plan pipeline.Plan) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", p.header.Render("action"), plan.Action)
	for i, s := range plan.Stages {
		flags := []string{string(s.Policy)}
		if s.Destructive {
			flags = append(flags, p.fail.Render("destructive"))
		}
		if s.Lane != "" {
			flags = append(flags, "lane="+s.Lane)
		}
		line := fmt.Sprintf("  %2d. ", i+1) + p.cell(string(s.ID), 20) + p.cell(string(s.Kind), 9) + strings.Join(flags, ", ")
		b.WriteString(line + "\n")
		if len(s.Secrets) > 0 {
			b.WriteString("      " + p.detail.Render("secrets: "+strings.Join(s.Secrets, ", ")) + "\n")
		}
	}
	fmt.Fprintf(&b, "  %s %s\n", p.detail.Render("always:"), pipeline.StageEpilogue)
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Actions prints the stage inclusion table.
func (p *Printer) Actions() error {
	actions := pipeline.Actions()
	var b strings.Builder
	b.WriteString(p.cell("", 20))
	for i := range actions {
		b.WriteString(p.cell(fmt.Sprintf("A%d", i+1), 5))
	}
	b.WriteString("\n")
	for _, s := range pipeline.Stages() {
		b.WriteString(p.cell(string(s.ID), 20))
		for _, a := range actions {
			mark := p.skipped.Render("-")
			if s.IncludedIn(a) {
				mark = p.ok.Render("x")
			}
			b.WriteString(p.cell(mark, 5))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for i, a := range actions {
		fmt.Fprintf(&b, "  A%d = %s\n", i+1, a)
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

// History prints stored run summaries.
func (p *Printer) History(runs []history.Summary) error {
	if len(runs) == 0 {
		_, err := io.WriteString(p.w, "no runs recorded\n")
		return err
	}
	var b strings.Builder
	b.WriteString(p.header.Render(p.cell("ID", 38)+p.cell("ACTION", 28)+p.cell("STATUS", 25)+p.cell("STARTED", 22)+"DURATION") + "\n")
	for _, r := range runs {
		status := p.status(r.Status)
		if r.FailedStage != "" {
			status += " (" + string(r.FailedStage) + ")"
		}
		b.WriteString(p.cell(r.ID, 38) + p.cell(string(r.Action), 28) + p.cell(status, 25) +
			p.cell(r.StartedAt.Local().Format(time.DateTime), 22) + formatDuration(r.Duration) + "\n")
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
