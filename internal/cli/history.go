package cli

import (
	"github.com/spf13/cobra"

	"github.com/codex-k8s/shipctl/internal/config"
	"github.com/codex-k8s/shipctl/internal/history"
	"github.com/codex-k8s/shipctl/internal/pipeline"
	"github.com/codex-k8s/shipctl/internal/report"
)

const defaultHistoryLimit = 20

// newHistoryCommand groups commands that read the run history store.
func newHistoryCommand(opts *Options) *cobra.Command {
	return newGroupCommand("history", "Inspect recorded runs",
		newHistoryListCommand(opts),
		newHistoryShowCommand(opts),
	)
}

func newHistoryListCommand(opts *Options) *cobra.Command {
	var (
		actionName string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var e historyEnv
			if err := parseEnv(&e); err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") && e.Limit > 0 {
				limit = e.Limit
			}

			var action pipeline.Action
			if actionName != "" {
				a, err := pipeline.ParseAction(actionName)
				if err != nil {
					return err
				}
				action = a
			}

			store, err := openHistory(opts)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.List(cmd.Context(), action, limit)
			if err != nil {
				return err
			}
			return report.New(cmd.OutOrStdout()).History(runs)
		},
	}

	cmd.Flags().StringVarP(&actionName, "action", "a", "", "Only list runs of this action")
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "Maximum number of runs to list")

	return cmd
}

func newHistoryShowCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show stage outcomes of one run (a unique id prefix is enough)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(opts)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return report.New(cmd.OutOrStdout()).Run(run)
		},
	}
}

// openHistory opens the store configured in shipctl.yaml.
func openHistory(opts *Options) (*history.SQLiteStore, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.HistoryPath())
}
