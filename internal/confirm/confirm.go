// Package confirm asks an operator to approve destructive stages before a run starts.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/codex-k8s/shipctl/internal/pipeline"
)

// ErrNotInteractive is returned when confirmation is needed but no terminal is attached.
var ErrNotInteractive = errors.New("confirmation required but stdin is not a terminal; pass --yes to approve destructive stages")

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	stageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	hintStyle    = lipgloss.NewStyle().Faint(true)
	approveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// Model is the bubbletea model of the y/N prompt.
type Model struct {
	action  pipeline.Action
	stages  []pipeline.Stage
	decided bool
	ok      bool
}

// NewModel returns a prompt for the destructive stages of action.
func NewModel(action pipeline.Action, stages []pipeline.Stage) Model {
	return Model{action: action, stages: stages}
}

// Approved reports whether the operator answered yes.
func (m Model) Approved() bool {
	return m.decided && m.ok
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch strings.ToLower(key.String()) {
	case "y":
		m.decided, m.ok = true, true
		return m, tea.Quit
	case "n", "enter", "esc", "ctrl+c", "q":
		m.decided, m.ok = true, false
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Action %s will run destructive stages:", m.action)))
	b.WriteString("\n")
	for _, s := range m.stages {
		b.WriteString("  - " + stageStyle.Render(string(s.ID)) + " " + hintStyle.Render(s.Name) + "\n")
	}
	if m.decided {
		if m.ok {
			b.WriteString(approveStyle.Render("approved") + "\n")
		} else {
			b.WriteString("declined\n")
		}
		return b.String()
	}
	b.WriteString("Proceed? " + hintStyle.Render("[y/N]") + " ")
	return b.String()
}

// Gate is a pipeline.Gate backed by an interactive terminal prompt.
type Gate struct {
	in          io.Reader
	out         io.Writer
	interactive bool
}

// NewGate returns a Gate reading from in. A non-terminal in makes Confirm fail with
// ErrNotInteractive instead of blocking.
func NewGate(in *os.File, out io.Writer) *Gate {
	return &Gate{in: in, out: out, interactive: in != nil && isatty.IsTerminal(in.Fd())}
}

// Confirm implements pipeline.Gate.
func (g *Gate) Confirm(ctx context.Context, action pipeline.Action, stages []pipeline.Stage) (bool, error) {
	if !g.interactive {
		return false, ErrNotInteractive
	}
	return g.run(ctx, NewModel(action, stages))
}

func (g *Gate) run(ctx context.Context, m Model) (bool, error) {
	p := tea.NewProgram(m, tea.WithInput(g.in), tea.WithOutput(g.out), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	fm, ok := final.(Model)
	if !ok {
		return false, nil
	}
	return fm.Approved(), nil
}

// Static is a pipeline.Gate with a fixed answer, used for --yes.
type Static bool

// Confirm implements pipeline.Gate.
func (s Static) Confirm(context.Context, pipeline.Action, []pipeline.Stage) (bool, error) {
	return bool(s), nil
}
