package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/shipctl/internal/pipeline"
)

// newGroupCommand builds a cobra.Command that groups subcommands.
func newGroupCommand(use, short string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
	}
	if len(subcommands) > 0 {
		cmd.AddCommand(subcommands...)
	}
	return cmd
}

// addVarsFlags registers --vars and --var-file.
func addVarsFlags(cmd *cobra.Command) {
	cmd.Flags().String("vars", "", "Additional variables in k=v,k2=v2 format")
	cmd.Flags().String("var-file", "", "Path to YAML/ENV file with additional variables")
}

// addActionFlag registers --action.
func addActionFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("action", "a", "", "Action to run ("+actionList()+")")
}

// actionFromCmd resolves --action, falling back to SHIPCTL_ACTION.
func actionFromCmd(cmd *cobra.Command) (pipeline.Plan, error) {
	value := cmd.Flag("action").Value.String()
	if !cmd.Flags().Changed("action") && envPresent("SHIPCTL_ACTION") {
		var e actionEnv
		if err := parseEnv(&e); err != nil {
			return pipeline.Plan{}, err
		}
		value = e.Action
	}
	action, err := pipeline.ParseAction(value)
	if err != nil {
		return pipeline.Plan{}, err
	}
	return pipeline.NewPlan(action)
}

func actionList() string {
	names := make([]string, 0, len(pipeline.Actions()))
	for _, a := range pipeline.Actions() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}
