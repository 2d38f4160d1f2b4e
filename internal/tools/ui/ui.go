package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const runTimeout = 3 * time.Minute

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	run     func(context.Context) ([]string, error)
	ctx     context.Context
	frame   int
	done    bool
	details []string
	err     error
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), func() tea.Msg {
		details, err := m.run(m.ctx)
		return doneMsg{details: details, err: err}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = context.Canceled
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	if !m.done {
		fmt.Fprintf(&b, "%s %s\n", spinnerFrames[m.frame], titleStyle.Render(m.title))
		return b.String()
	}
	b.WriteString(Result(m.title, m.details, m.err))
	return b.String()
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

// Run executes fn behind a terminal spinner and returns its result once the
// program exits.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	final, err := tea.NewProgram(model{title: title, run: fn, ctx: ctx}).Run()
	if err != nil {
		return nil, err
	}
	m := final.(model)
	return m.details, m.err
}

// Result renders a finished operation as a styled block.
func Result(title string, details []string, err error) string {
	var b strings.Builder
	if err != nil {
		fmt.Fprintf(&b, "%s %s\n", errorStyle.Render("✗"), titleStyle.Render(title))
	} else {
		fmt.Fprintf(&b, "%s %s\n", successStyle.Render("✓"), titleStyle.Render(title))
	}
	for _, d := range details {
		fmt.Fprintf(&b, "  %s\n", dimStyle.Render(d))
	}
	if err != nil {
		fmt.Fprintf(&b, "  %s\n", errorStyle.Render(err.Error()))
	}
	return b.String()
}
