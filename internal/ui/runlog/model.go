package runlog

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/emailflesh/internal/download"
	"github.com/nhle/emailflesh/internal/theme"
)

// maxLines bounds the log pane; older lines are dropped.
const maxLines = 5000

// Model is the live download view: a progress line above a scrolling log.
type Model struct {
	viewport viewport.Model
	spinner  spinner.Model
	lines    []string
	account  string
	index    int
	total    int
	saved    int
	active   bool
	follow   bool
	result   *download.Result
	width    int
	height   int
}

// New creates an empty log view.
func New(width, height int) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	m := Model{
		viewport: viewport.New(width, height),
		spinner:  s,
		follow:   true,
	}
	m.SetSize(width, height)
	return m
}

// Reset clears the view for a new run of account.
func (m *Model) Reset(account string) tea.Cmd {
	m.lines = nil
	m.account = account
	m.index = 0
	m.total = 0
	m.saved = 0
	m.result = nil
	m.active = true
	m.follow = true
	m.viewport.SetContent("")
	return m.spinner.Tick
}

// Note appends a line that did not come from the worker.
func (m *Model) Note(text string) {
	m.appendLine(theme.HelpStyle.Render(text))
}

// Append records one worker event.
func (m *Model) Append(ev download.Event) {
	switch ev.Kind {
	case download.EventProgress:
		m.index = ev.Index
		m.total = ev.Total
	case download.EventAttachment:
		m.saved++
	case download.EventFinished:
		m.active = false
		m.result = ev.Result
	}

	line := theme.LogLineStyle(ev.Kind.String()).Render(ev.String())
	if ev.Fatal {
		line = theme.ErrorStyle.Render(ev.String())
	}
	m.appendLine(line)
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// Lines returns the number of lines in the log.
func (m Model) Lines() int {
	return len(m.lines)
}

// Result returns the finished run's summary, if any.
func (m Model) Result() *download.Result {
	return m.result
}

// Follow jumps to the newest line and keeps the pane there.
func (m *Model) Follow() {
	m.follow = true
	m.viewport.GotoBottom()
}

// Update advances the spinner while a run is active and scrolls the pane
// on key presses. Scrolling away from the bottom stops following new lines.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if !m.active {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg, tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.follow = m.viewport.AtBottom()
		return m, cmd
	}
	return m, nil
}

// View renders the progress line and the log pane.
func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.progressLine(),
		theme.PanelStyle.Render(m.viewport.View()),
	)
}

func (m Model) progressLine() string {
	prefix := "  "
	if m.active {
		prefix = m.spinner.View() + " "
	}

	if m.total == 0 {
		return prefix + theme.HelpStyle.Render(m.account)
	}

	counts := fmt.Sprintf(" %d/%d  ·  %d saved", m.index, m.total, m.saved)
	barWidth := m.width - lipgloss.Width(prefix) - lipgloss.Width(counts) - 2
	return prefix + renderBar(m.index, m.total, barWidth) + counts
}

// SetSize updates the dimensions; one row goes to the progress line and
// two to the pane border.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height

	m.viewport.Width = max(width-4, 10)
	m.viewport.Height = max(height-3, 3)
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func renderBar(done, total, width int) string {
	if width < 10 {
		width = 10
	}
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := width * done / total
	if filled > width {
		filled = width
	}

	return lipgloss.NewStyle().Foreground(theme.ColorGreen).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(theme.ColorSubtle).Render(strings.Repeat("░", width-filled))
}
