package cli

import (
	"github.com/spf13/cobra"

	"github.com/codex-k8s/shipctl/internal/config"
	"github.com/codex-k8s/shipctl/internal/env"
)

// project is a loaded shipctl.yaml with its variables and resolved secrets.
type project struct {
	cfg     *config.Config
	vars    env.Vars
	secrets config.Secrets
}

// loadProjectFromCmd loads the configuration and merges variables in increasing
// priority: env files, process environment, --var-file, --vars.
func loadProjectFromCmd(cmd *cobra.Command, opts *Options) (*project, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	var ve varsEnv
	if err := parseEnv(&ve); err != nil {
		return nil, err
	}
	inline := ve.Vars
	if f := cmd.Flags().Lookup("vars"); f != nil && f.Changed {
		inline = f.Value.String()
	}
	varFile := ve.VarFile
	if f := cmd.Flags().Lookup("var-file"); f != nil && f.Changed {
		varFile = f.Value.String()
	}

	fileVars, err := env.LoadEnvFiles(cfg.ProjectRoot, cfg.EnvFiles)
	if err != nil {
		return nil, err
	}
	inlineVars, err := env.ParseInlineVars(inline)
	if err != nil {
		return nil, err
	}
	var extra env.Vars
	if varFile != "" {
		extra, err = env.LoadVarFile(varFile)
		if err != nil {
			return nil, err
		}
	}

	vars := env.Merge(fileVars, env.FromOS(), extra, inlineVars)
	return &project{
		cfg:     cfg,
		vars:    vars,
		secrets: config.ResolveSecrets(cfg.Secrets, vars),
	}, nil
}
