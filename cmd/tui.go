package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	tui "github.com/nhle/emailflesh/internal/app"
	"github.com/nhle/emailflesh/internal/download"
)

func newTUICmd(app *app) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Interactive downloader with pause, resume and stop controls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger := app.ledger()
			if ledger != nil {
				defer ledger.Close()
			}

			ring, err := app.openCredentials()
			if err != nil {
				app.log.WithError(err).Warn("keyring unavailable, passwords will not be remembered")
			}

			ctrl := download.New(download.Options{
				Dialer:   app.dialer,
				Progress: app.progress,
				Ledger:   ledger,
				Log:      app.log,
				Folder:   app.cfg.IMAP.Folder,
			})

			model := tui.New(tui.Options{
				Context:     cmd.Context(),
				Controller:  ctrl,
				Progress:    app.progress,
				Credentials: ring,
				Account:     account,
				Destination: app.cfg.Download.Destination,
				Log:         app.log,
			})

			p := tea.NewProgram(model,
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run terminal UI: %w", err)
			}

			finishInFlight(ctrl)
			return nil
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Prefill the email field")

	return cmd
}

// finishInFlight stops a run still going after the UI exits, including one
// already told to stop by a forced quit, and waits for its current email.
func finishInFlight(ctrl *download.Controller) {
	if ctrl.State() == download.StateIdle {
		return
	}
	ctrl.Stop()
	discardUntilFinished(ctrl)
	ctrl.Wait()
}
