package cli

import (
	"github.com/spf13/cobra"

	"github.com/codex-k8s/shipctl/internal/execx"
)

// newDoctorCommand creates the "doctor" subcommand that runs preflight checks for an action.
func newDoctorCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check tools and secrets an action needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			plan, err := actionFromCmd(cmd)
			if err != nil {
				return err
			}
			p, err := loadProjectFromCmd(cmd, opts)
			if err != nil {
				return err
			}

			if err := runDoctorChecks(logger, p, plan, execx.LookPath); err != nil {
				return err
			}

			logger.Info("doctor checks completed successfully", "action", string(plan.Action))
			return nil
		},
	}

	addActionFlag(cmd)
	addVarsFlags(cmd)

	return cmd
}
