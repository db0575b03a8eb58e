package cli

import (
	"github.com/spf13/cobra"

	"github.com/codex-k8s/shipctl/internal/report"
)

// newActionsCommand creates the "actions" command that prints the stage inclusion table.
func newActionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "Show which stages every action runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return report.New(cmd.OutOrStdout()).Actions()
		},
	}
}

// newStagesCommand creates the "stages" command that prints the plan of an action without running it.
func newStagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stages",
		Short: "Print the stages an action would run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := actionFromCmd(cmd)
			if err != nil {
				return err
			}
			LoggerFromContext(cmd.Context()).Debug("resolved plan", "action", string(plan.Action), "stages", len(plan.Stages))
			return report.New(cmd.OutOrStdout()).Plan(plan)
		},
	}
	addActionFlag(cmd)
	return cmd
}
