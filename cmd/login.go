package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/emailflesh/internal/credential"
)

const appPasswordHint = `Gmail and most large providers reject your normal password over IMAP.
Create an app password instead:
  1. Turn on 2-Step Verification for the account.
  2. Open https://myaccount.google.com/apppasswords and generate a password for "Mail".
  3. Use the 16-character password it shows with --password or ` + "`login`" + `.`

func newLoginCmd(app *app) *cobra.Command {
	var (
		account  string
		password string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Remember an app password in the system keyring",
		Long:  "Store the IMAP password for an account so `run` and `tui` can use it without prompting.\n\n" + appPasswordHint,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				err := huh.NewInput().
					Title("App password for " + account).
					EchoMode(huh.EchoModePassword).
					Value(&password).
					Run()
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}
			password = strings.TrimSpace(password)
			if password == "" {
				return errors.New("password must not be empty")
			}

			ring, err := app.openCredentials()
			if err != nil {
				return err
			}
			if err := ring.Set(account, password); err != nil {
				return err
			}

			app.log.WithField("account", account).Info("stored app password")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Saved password for %s.\n", account)
			return err
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Email address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "App password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func newLogoutCmd(app *app) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored app password for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ring, err := app.openCredentials()
			if err != nil {
				return err
			}

			err = ring.Delete(account)
			if errors.Is(err, credential.ErrNotFound) {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "No password stored for %s.\n", account)
				return err
			}
			if err != nil {
				return err
			}

			app.log.WithField("account", account).Info("removed app password")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed password for %s.\n", account)
			return err
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Email address")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
