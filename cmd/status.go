package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nhle/emailflesh/internal/model"
)

type statusRow struct {
	Account       string `json:"account"`
	LastProcessed int    `json:"last_processed"`
	LastUpdated   string `json:"last_updated,omitempty"`
	Files         *int   `json:"files,omitempty"`
}

func newStatusCmd(app *app) *cobra.Command {
	var (
		account string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the saved checkpoint for each account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			records := app.progress.All()
			if account != "" {
				records = filterRecords(records, account)
			}

			rows := make([]statusRow, 0, len(records))
			ledger := app.ledger()
			for _, rec := range records {
				row := statusRow{Account: rec.Account, LastProcessed: rec.LastProcessed}
				if !rec.LastUpdated.IsZero() {
					row.LastUpdated = rec.LastUpdated.Local().Format("2006-01-02 15:04:05")
				}
				if ledger != nil {
					if n, err := ledger.CountDownloads(cmd.Context(), rec.Account); err == nil {
						row.Files = &n
					}
				}
				rows = append(rows, row)
			}
			if ledger != nil {
				_ = ledger.Close()
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			if len(rows) == 0 {
				_, err := fmt.Fprintf(out, "No progress recorded yet (%s).\n", app.progress.Path())
				return err
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ACCOUNT", "LAST EMAIL", "UPDATED", "FILES")
			for _, row := range rows {
				files := "-"
				if row.Files != nil {
					files = strconv.Itoa(*row.Files)
				}
				t.Row(row.Account, strconv.Itoa(row.LastProcessed), row.LastUpdated, files)
			}
			_, err := fmt.Fprintln(out, t.Render())
			return err
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Only show this account")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	return cmd
}

func filterRecords(records []model.ProgressRecord, account string) []model.ProgressRecord {
	out := records[:0:0]
	for _, rec := range records {
		if rec.Account == account {
			out = append(out, rec)
		}
	}
	return out
}
