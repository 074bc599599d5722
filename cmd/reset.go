package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(app *app) *cobra.Command {
	var (
		account      string
		purgeHistory bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget an account's checkpoint so the next run starts from the first email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			removed, err := app.progress.Reset(account)
			switch {
			case err != nil:
				return fmt.Errorf("reset progress for %s: %w", account, err)
			case removed:
				app.log.WithField("account", account).Info("progress reset")
				fmt.Fprintf(out, "Progress has been reset for %s.\n", account)
			default:
				fmt.Fprintf(out, "No progress found for %s.\n", account)
			}

			if !purgeHistory {
				return nil
			}

			ledger := app.ledger()
			if ledger == nil {
				return fmt.Errorf("download history is unavailable at %s", app.cfg.History.Path)
			}
			defer ledger.Close()

			n, err := ledger.DeleteAccountHistory(cmd.Context(), account)
			if err != nil {
				return fmt.Errorf("purge history for %s: %w", account, err)
			}
			_, err = fmt.Fprintf(out, "Removed %d history entries.\n", n)
			return err
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Email address")
	cmd.Flags().BoolVar(&purgeHistory, "purge-history", false, "Also delete the account's download history")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
