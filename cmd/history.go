package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/emailflesh/internal/store"
)

func newHistoryCmd(app *app) *cobra.Command {
	var (
		account string
		since   int
		limit   int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved attachments, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger := app.ledger()
			if ledger == nil {
				return fmt.Errorf("download history is unavailable at %s", app.cfg.History.Path)
			}
			defer ledger.Close()

			filter := store.HistoryFilter{Limit: limit}
			if account != "" {
				filter.Account = &account
			}
			if since > 0 {
				filter.Since = &since
			}

			records, err := ledger.ListDownloads(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			if len(records) == 0 {
				_, err := fmt.Fprintln(out, "No downloads recorded.")
				return err
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("SAVED", "ACCOUNT", "EMAIL", "FILE", "SIZE")
			for _, rec := range records {
				t.Row(
					humanize.Time(rec.SavedAt),
					rec.Account,
					strconv.Itoa(rec.MessageIndex),
					rec.Filename,
					humanize.Bytes(uint64(rec.Size)),
				)
			}
			_, err = fmt.Fprintln(out, t.Render())
			return err
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Only show this account")
	cmd.Flags().IntVar(&since, "since", 0, "Only show emails at or after this position")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	return cmd
}
