package cmd

import (
	"github.com/spf13/cobra"

	"github.com/nhle/emailflesh/internal/model"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd(opts ...appOption) *cobra.Command {
	app := newApp(opts...)

	rootCmd := &cobra.Command{
		Use:   model.AppName,
		Short: "Download every email attachment from an IMAP mailbox, resuming where it left off",
		Long: model.AppName + " walks an IMAP folder message by message, saves each attachment under " +
			"<destination>/<account name>/ and records a checkpoint after every message, so an " +
			"interrupted run picks up at the next unprocessed email.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			console := cmd.ErrOrStderr()
			if cmd.Name() == "tui" {
				console = nil
			}
			return app.load(console)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			app.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", app.configPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Also write diagnostic log entries to stderr")

	rootCmd.AddCommand(
		newRunCmd(app),
		newTUICmd(app),
		newStatusCmd(app),
		newResetCmd(app),
		newHistoryCmd(app),
		newLoginCmd(app),
		newLogoutCmd(app),
		newConfigCmd(app),
	)

	return rootCmd
}
