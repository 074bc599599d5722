package form

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/emailflesh/internal/theme"
)

// SubmittedMsg carries the completed form values.
type SubmittedMsg struct {
	Account     string
	Password    string
	Destination string
	Remember    bool
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// bindings holds field values on the heap so that huh's Value() pointers
// remain valid across Bubble Tea model copies.
type bindings struct {
	account     string
	password    string
	destination string
	remember    bool
}

// Model is the account/password/destination form shown before a download.
type Model struct {
	form    *huh.Form
	fb      *bindings
	notice  string
	canSave bool
	width   int
	height  int
}

// New creates a form prefilled with account and destination. canSave
// enables the "remember password" toggle.
func New(account, destination string, canSave bool, width, height int) Model {
	return Model{
		fb:      &bindings{account: account, destination: destination},
		canSave: canSave,
		width:   width,
		height:  height,
	}
}

// Start (re)builds the form, keeping the account and destination the
// user typed last. The password is cleared.
func (m *Model) Start() tea.Cmd {
	m.fb.password = ""
	m.fb.remember = false
	m.form = m.buildForm()
	return m.form.Init()
}

// SetNotice shows a one-line message above the form, e.g. a validation
// failure from the previous attempt.
func (m *Model) SetNotice(notice string) {
	m.notice = notice
}

// Account returns the account currently entered.
func (m Model) Account() string {
	return strings.TrimSpace(m.fb.account)
}

// Update handles messages for the form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	// The form is dropped once finished so later messages cannot submit
	// it twice; Start builds a fresh one.
	switch m.form.State {
	case huh.StateCompleted:
		m.form = nil
		return m, m.submit()
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	content := theme.TitleStyle.Render("Download attachments")
	if m.notice != "" {
		content += "\n" + theme.ErrorStyle.Render(m.notice)
	}
	content += "\n" + m.form.View()

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	fields := []huh.Field{
		huh.NewInput().
			Title("Email").
			Placeholder("you@gmail.com").
			Value(&m.fb.account).
			Validate(validateAccount),
		huh.NewInput().
			Title("App password").
			Description("Leave blank to use the password saved with `emailflesh login`.").
			EchoMode(huh.EchoModePassword).
			Value(&m.fb.password),
		huh.NewInput().
			Title("Destination folder").
			Value(&m.fb.destination).
			Validate(validateRequired("Destination folder")),
	}
	if m.canSave {
		fields = append(fields,
			huh.NewConfirm().
				Title("Remember this password?").
				Value(&m.fb.remember),
		)
	}

	return huh.NewForm(
		huh.NewGroup(fields...),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
}

func (m Model) submit() tea.Cmd {
	msg := SubmittedMsg{
		Account:     strings.TrimSpace(m.fb.account),
		Password:    m.fb.password,
		Destination: strings.TrimSpace(m.fb.destination),
		Remember:    m.fb.remember && m.fb.password != "",
	}
	return func() tea.Msg { return msg }
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 80 {
		w = 80
	}
	return w
}

func (m Model) formHeight() int {
	h := m.height - 6
	if h < 10 {
		h = 10
	}
	return h
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateAccount(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("email is required")
	}
	if strings.ContainsAny(s, " \t") {
		return errors.New("email must not contain spaces")
	}
	return nil
}
