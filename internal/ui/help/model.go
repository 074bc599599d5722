package help

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/emailflesh/internal/keys"
	"github.com/nhle/emailflesh/internal/theme"
)

const notes = `Progress is saved after every email. Stopping, quitting or losing the
connection never loses more than the email being processed; the next run
resumes right after the last saved one.

Pause takes effect before the next email. Reset makes the next run start
from the first email again and rewrites existing files.`

// Model is the help overlay.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.ShowAll = true
	m := Model{keys: keys, help: h}
	m.SetSize(width, height)
	return m
}

// View renders the overlay.
func (m Model) View() string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.TitleStyle.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
		"",
		theme.HelpStyle.Render(notes),
	)

	return theme.PanelStyle.
		Width(max(m.width-4, 20)).
		Height(max(m.height-2, 5)).
		Render(content)
}

// SetSize updates the overlay dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 6
}
