package app

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/emailflesh/internal/download"
	"github.com/nhle/emailflesh/internal/model"
	"github.com/nhle/emailflesh/internal/ui/form"
)

// eventMsg carries one worker event to the UI.
type eventMsg download.Event

// runStartedMsg is sent once the controller accepted a request.
type runStartedMsg struct {
	account string
}

// startFailedMsg is sent when Start rejected the request.
type startFailedMsg struct {
	err error
}

// resetDoneMsg reports the outcome of a progress reset.
type resetDoneMsg struct {
	account string
	removed bool
	err     error
}

func (r resetDoneMsg) text() string {
	switch {
	case r.account == "":
		return "Enter an email first."
	case r.err != nil:
		return fmt.Sprintf("Progress for %s was reset but could not be saved: %v", r.account, r.err)
	case r.removed:
		return "Progress has been reset for " + r.account + "."
	default:
		return "No progress found for " + r.account + "."
	}
}

// passwordSavedMsg reports the outcome of storing a password.
type passwordSavedMsg struct {
	err error
}

// waitForEvent returns a tea.Cmd that blocks until the worker emits the
// next event. It must be re-issued after each eventMsg.
func waitForEvent(ctrl *download.Controller) tea.Cmd {
	events := ctrl.Events()
	return func() tea.Msg {
		return eventMsg(<-events)
	}
}

// startRun resolves the password from the keyring when the form left it
// blank, starts the controller and optionally remembers the password.
// Keyring access can prompt, so it stays off the update loop.
func (m Model) startRun(sub form.SubmittedMsg) tea.Cmd {
	ctx, ctrl, creds, log := m.ctx, m.ctrl, m.creds, m.log

	start := func() tea.Msg {
		req := download.Request{
			Credentials: model.Credentials{Account: sub.Account, Password: sub.Password},
			Destination: sub.Destination,
		}
		if creds != nil {
			resolved, err := creds.Resolve(req.Credentials)
			if err != nil {
				log.WithError(err).WithField("account", sub.Account).Warn("failed to read stored password")
			} else {
				req.Credentials = resolved
			}
		}

		if err := ctrl.Start(ctx, req); err != nil {
			return startFailedMsg{err: err}
		}
		return runStartedMsg{account: sub.Account}
	}

	if !sub.Remember || creds == nil {
		return start
	}

	save := func() tea.Msg {
		return passwordSavedMsg{err: creds.Set(sub.Account, sub.Password)}
	}
	return tea.Sequence(start, save)
}

// resetProgress clears the checkpoint for account.
func resetProgress(p ProgressResetter, account string) tea.Cmd {
	return func() tea.Msg {
		if account == "" {
			return resetDoneMsg{}
		}
		removed, err := p.Reset(account)
		return resetDoneMsg{account: account, removed: removed, err: err}
	}
}
