package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/emailflesh/internal/download"
	"github.com/nhle/emailflesh/internal/mailbox"
)

func newRunCmd(app *app) *cobra.Command {
	var (
		account     string
		password    string
		destination string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download attachments for one account",
		Long: "Connect to the configured IMAP server, walk the folder from the account's last " +
			"checkpoint and save every attachment. Ctrl-C stops after the current email; a second " +
			"Ctrl-C aborts immediately.\n\n" +
			"The password is taken from --password, then $" + passwordEnv + ", then the keyring " +
			"entry written by `login`.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if destination == "" {
				destination = app.cfg.Download.Destination
			}
			creds := app.resolveCredentials(account, password)

			ledger := app.ledger()
			if ledger != nil {
				defer ledger.Close()
			}

			ctrl := download.New(download.Options{
				Dialer:   app.dialer,
				Progress: app.progress,
				Ledger:   ledger,
				Log:      app.log,
				Folder:   app.cfg.IMAP.Folder,
			})

			res, err := runDownload(cmd, ctrl, download.Request{Credentials: creds, Destination: destination})
			if err != nil {
				return err
			}
			if res.Err != nil {
				if mailbox.IsAuthError(res.Err) {
					fmt.Fprintln(cmd.ErrOrStderr(), appPasswordHint)
				}
				return fmt.Errorf("download failed: %w", res.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Email address to log in with")
	cmd.Flags().StringVarP(&password, "password", "p", "", "App password (see `login --help`)")
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "Folder to save attachments in (default from config)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

// runDownload starts ctrl and prints its events until the run finishes.
// The first interrupt asks the worker to stop after the current email; the
// second cancels the run outright.
func runDownload(cmd *cobra.Command, ctrl *download.Controller, req download.Request) (download.Result, error) {
	runCtx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := ctrl.Start(runCtx, req); err != nil {
		return download.Result{}, err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var g errgroup.Group

	g.Go(func() error {
		out := cmd.OutOrStdout()
		for ev := range ctrl.Events() {
			if _, err := fmt.Fprintln(out, ev.String()); err != nil {
				ctrl.Stop()
				if ev.Kind != download.EventFinished {
					discardUntilFinished(ctrl)
				}
				return fmt.Errorf("writing run output: %w", err)
			}
			if ev.Kind == download.EventFinished {
				return nil
			}
		}
		return nil
	})

	g.Go(func() error {
		interrupts := 0
		for {
			select {
			case <-ctrl.Done():
				return nil
			case <-sigCh:
				interrupts++
				if interrupts == 1 {
					fmt.Fprintln(cmd.ErrOrStderr(), "Stopping after the current email (Ctrl-C again to abort)...")
					ctrl.Stop()
					continue
				}
				cancel()
			}
		}
	})

	err := g.Wait()
	return ctrl.Wait(), err
}

// discardUntilFinished drains events so a worker blocked on a full channel
// can reach the end of its run.
func discardUntilFinished(ctrl *download.Controller) {
	for {
		select {
		case ev := <-ctrl.Events():
			if ev.Kind == download.EventFinished {
				return
			}
		case <-ctrl.Done():
			return
		}
	}
}
