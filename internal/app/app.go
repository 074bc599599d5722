package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/nhle/emailflesh/internal/credential"
	"github.com/nhle/emailflesh/internal/download"
	"github.com/nhle/emailflesh/internal/keys"
	"github.com/nhle/emailflesh/internal/model"
	"github.com/nhle/emailflesh/internal/theme"
	"github.com/nhle/emailflesh/internal/ui"
	"github.com/nhle/emailflesh/internal/ui/form"
	helpview "github.com/nhle/emailflesh/internal/ui/help"
	"github.com/nhle/emailflesh/internal/ui/runlog"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewForm ViewState = iota
	ViewRun
	ViewHelp
)

// ProgressResetter is the part of the progress store the UI needs.
type ProgressResetter interface {
	Reset(account string) (bool, error)
}

// Options wires the UI to the download machinery.
type Options struct {
	Context     context.Context
	Controller  *download.Controller
	Progress    ProgressResetter
	Credentials *credential.Store // nil when no keyring is available
	Account     string
	Destination string
	Log         logrus.FieldLogger
}

// Model is the root Bubble Tea model: a form to start a download and a
// live log of the running one.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	statusHelp   help.Model
	form         form.Model
	runView      runlog.Model
	helpView     helpview.Model

	ctx      context.Context
	ctrl     *download.Controller
	progress ProgressResetter
	creds    *credential.Store
	log      logrus.FieldLogger

	account  string
	quitting bool
	ready    bool
}

// New creates the root model showing the form.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	k := keys.DefaultKeyMap()

	return Model{
		currentView: ViewForm,
		keys:        k,
		statusHelp:  help.New(),
		form:        form.New(opts.Account, opts.Destination, opts.Credentials != nil, 80, 24),
		runView:     runlog.New(80, 22),
		helpView:    helpview.New(k, 80, 22),
		ctx:         ctx,
		ctrl:        opts.Controller,
		progress:    opts.Progress,
		creds:       opts.Credentials,
		log:         log,
		account:     opts.Account,
	}
}

// Init builds the form.
func (m Model) Init() tea.Cmd {
	return m.form.Start()
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.BodyWidth(), m.layout.BodyHeight()
		m.form.SetSize(w, h)
		m.runView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.statusHelp.Width = w
		// Forward to the form so huh can lay itself out.
		var cmd tea.Cmd
		m.form, cmd = m.form.Update(msg)
		return m, cmd

	case form.SubmittedMsg:
		m.account = msg.Account
		return m, m.startRun(msg)

	case form.CancelMsg:
		return m, tea.Quit

	case runStartedMsg:
		m.currentView = ViewRun
		return m, tea.Batch(m.runView.Reset(msg.account), waitForEvent(m.ctrl))

	case startFailedMsg:
		m.currentView = ViewForm
		m.form.SetNotice(msg.err.Error())
		return m, m.form.Start()

	case eventMsg:
		ev := download.Event(msg)
		m.runView.Append(ev)
		if ev.Kind != download.EventFinished {
			return m, waitForEvent(m.ctrl)
		}
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil

	case resetDoneMsg:
		m.runView.Note(msg.text())
		return m, nil

	case passwordSavedMsg:
		if msg.err != nil {
			m.runView.Note("Could not save the password: " + msg.err.Error())
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.runView, cmd = m.runView.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) && (msg.String() == "ctrl+c" || m.currentView != ViewForm) {
			return m.quit()
		}
		switch m.currentView {
		case ViewRun:
			return m.handleRunKey(msg)
		case ViewHelp:
			if key.Matches(msg, m.keys.Help) || msg.String() == "esc" {
				m.currentView = m.previousView
			}
			return m, nil
		}
	}

	return m.updateActiveView(msg)
}

// handleRunKey maps keys on the download screen to controller actions.
func (m Model) handleRunKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	state := m.ctrl.State()

	switch {
	case key.Matches(msg, m.keys.Help):
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return m, nil

	case key.Matches(msg, m.keys.Pause):
		switch state {
		case download.StateRunning:
			m.ctrl.Pause()
			m.runView.Note("Pausing after the current email...")
		case download.StatePaused:
			m.ctrl.Resume()
		}
		return m, nil

	case key.Matches(msg, m.keys.Stop):
		if m.ctrl.Stop() {
			m.runView.Note("Stopping after the current email...")
		}
		return m, nil

	case key.Matches(msg, m.keys.Reset):
		if state != download.StateIdle {
			m.runView.Note("Stop the download before resetting progress.")
			return m, nil
		}
		return m, resetProgress(m.progress, m.account)

	case key.Matches(msg, m.keys.NewRun):
		if state != download.StateIdle {
			return m, nil
		}
		m.currentView = ViewForm
		m.form.SetNotice("")
		return m, m.form.Start()

	case key.Matches(msg, m.keys.Follow):
		m.runView.Follow()
		return m, nil
	}

	return m.updateActiveView(msg)
}

// quit stops a running download first; a second request quits at once.
func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.ctrl.State() == download.StateIdle || m.quitting {
		return m, tea.Quit
	}
	m.quitting = true
	m.ctrl.Stop()
	m.runView.Note("Stopping after the current email, then quitting (press again to force)...")
	return m, nil
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewForm:
		m.form, cmd = m.form.Update(msg)
	case ViewRun:
		m.runView, cmd = m.runView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := model.AppName
	if m.account != "" && m.currentView != ViewForm {
		title = fmt.Sprintf("%s · %s", model.AppName, m.account)
	}
	state := m.ctrl.State().String()
	header := m.layout.Header(title, theme.StateStyle(state).Render(state))

	return m.layout.Frame(header, m.renderContent(), m.layout.StatusBar(m.keyHints()))
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewForm:
		return m.form.View()
	case ViewRun:
		return m.runView.View()
	case ViewHelp:
		return m.helpView.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewForm:
		return "enter next | shift+tab back | esc quit"
	case ViewHelp:
		return "? close help | esc back"
	default:
		return m.statusHelp.ShortHelpView(m.keys.ShortHelp())
	}
}
