// Package cli defines the command-line interface for shipctl.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/shipctl/internal/config"
	"github.com/codex-k8s/shipctl/internal/logging"
)

const (
	// defaultConfigPath is the default path to the project configuration file.
	defaultConfigPath = config.DefaultPath
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	LogLevel   logging.Level
	NoColor    bool
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		ConfigPath: defaultConfigPath,
		LogLevel:   logging.LevelInfo,
	}

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "shipctl",
		Short:         "shipctl runs build, push and infrastructure stages for a project",
		Long:          "shipctl drives one deployment action (docker-only, terraform-plan, terraform-apply, terraform-destroy, full-deploy, terraform-clean-and-apply) through a fixed table of stages defined against a shipctl.yaml project file.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var e baseEnv
			if err := parseEnv(&e); err != nil {
				return err
			}
			if !cmd.Flags().Changed("config") && envPresent("SHIPCTL_CONFIG") {
				opts.ConfigPath = e.ConfigPath
			}
			levelValue := cmd.Flag("log-level").Value.String()
			if !cmd.Flags().Changed("log-level") && envPresent("SHIPCTL_LOG_LEVEL") {
				levelValue = e.LogLevel
			}
			if !cmd.Flags().Changed("no-color") && (e.NoColor || envPresent("NO_COLOR")) {
				opts.NoColor = true
			}

			level := logging.ParseLevel(levelValue)
			opts.LogLevel = level
			logger = logging.NewLogger(cmd.ErrOrStderr(), level, logging.Options{NoColor: opts.NoColor})
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "Path to shipctl.yaml configuration file")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "Disable colored log output")

	cmd.AddCommand(
		newRunCommand(opts),
		newStagesCommand(),
		newActionsCommand(),
		newDoctorCommand(opts),
		newHistoryCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
