package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/codex-k8s/shipctl/internal/artifacts"
	"github.com/codex-k8s/shipctl/internal/config"
	"github.com/codex-k8s/shipctl/internal/confirm"
	"github.com/codex-k8s/shipctl/internal/docker"
	"github.com/codex-k8s/shipctl/internal/execx"
	"github.com/codex-k8s/shipctl/internal/ghoutput"
	"github.com/codex-k8s/shipctl/internal/history"
	"github.com/codex-k8s/shipctl/internal/kube"
	"github.com/codex-k8s/shipctl/internal/pipeline"
	"github.com/codex-k8s/shipctl/internal/report"
	"github.com/codex-k8s/shipctl/internal/stages"
	"github.com/codex-k8s/shipctl/internal/terraform"
)

// runOptions holds flags of the run command after env defaults were applied.
type runOptions struct {
	yes            bool
	parallelImages bool
	buildNumber    string
	gitCommit      string
	noHistory      bool
}

// newRunCommand creates the "run" command that executes the stage plan of one action.
func newRunCommand(opts *Options) *cobra.Command {
	var ro runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the stages of an action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			if err := applyRunEnv(cmd, &ro); err != nil {
				return err
			}
			plan, err := actionFromCmd(cmd)
			if err != nil {
				return err
			}
			p, err := loadProjectFromCmd(cmd, opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gate := selectGate(p.cfg, ro.yes)
			run, runErr := executeRun(ctx, logger, execx.Exec{}, p, plan, ro, gate)

			if err := report.New(cmd.OutOrStdout()).Run(run); err != nil {
				logger.Warn("failed to print run summary", "error", err)
			}
			if !ro.noHistory && !p.cfg.History.Disabled {
				if err := saveHistory(context.WithoutCancel(ctx), p.cfg.HistoryPath(), run); err != nil {
					logger.Warn("failed to record run history", "path", p.cfg.HistoryPath(), "error", err)
				}
			}
			if err := ghoutput.Write(ghoutput.RunOutputs(run)); err != nil {
				logger.Warn("failed to write GitHub outputs", "error", err)
			}
			return runErr
		},
	}

	addActionFlag(cmd)
	addVarsFlags(cmd)
	cmd.Flags().BoolVarP(&ro.yes, "yes", "y", false, "Approve destructive stages without asking")
	cmd.Flags().BoolVar(&ro.parallelImages, "parallel-images", false, "Build and push client and server images concurrently")
	cmd.Flags().StringVar(&ro.buildNumber, "build-number", "", "CI build number used as image tag")
	cmd.Flags().StringVar(&ro.gitCommit, "git-commit", "", "Commit being deployed")
	cmd.Flags().BoolVar(&ro.noHistory, "no-history", false, "Do not record the run in the history store")

	return cmd
}

// applyRunEnv fills flags that were not set explicitly from SHIPCTL_* and CI env vars.
func applyRunEnv(cmd *cobra.Command, ro *runOptions) error {
	var e runEnv
	if err := parseEnv(&e); err != nil {
		return err
	}
	if !cmd.Flags().Changed("yes") && e.Yes {
		ro.yes = true
	}
	if !cmd.Flags().Changed("parallel-images") && e.ParallelImages {
		ro.parallelImages = true
	}
	if !cmd.Flags().Changed("build-number") {
		ro.buildNumber = e.buildNumber()
	}
	if !cmd.Flags().Changed("git-commit") {
		ro.gitCommit = e.gitCommit()
	}
	if !cmd.Flags().Changed("no-history") && e.NoHistory {
		ro.noHistory = true
	}
	return nil
}

// selectGate returns the confirmation gate for destructive stages.
func selectGate(cfg *config.Config, yes bool) pipeline.Gate {
	if yes || !cfg.ConfirmDestructive() {
		return confirm.Static(true)
	}
	return confirm.NewGate(os.Stdin, os.Stderr)
}

// executeRun wires production collaborators into the stage handlers and runs plan.
func executeRun(ctx context.Context, logger *slog.Logger, runner execx.Runner, p *project, plan pipeline.Plan, ro runOptions, gate pipeline.Gate) (*pipeline.Run, error) {
	cfg := p.cfg
	runID := uuid.NewString()

	buildNumber := ro.buildNumber
	if buildNumber == "" {
		buildNumber = runID[:8]
		if plan.Kinds()[pipeline.KindBuild] {
			logger.Warn("no build number set; tagging images with the run id", "tag", buildNumber)
		}
	}

	tmpl := config.TemplateContext{
		Project:     cfg.Project,
		Action:      string(plan.Action),
		RunID:       runID,
		BuildNumber: buildNumber,
		GitCommit:   ro.gitCommit,
		Region:      cfg.Terraform.Region,
		Now:         time.Now().UTC(),
		EnvMap:      p.vars,
		Versions:    cfg.Versions,
	}

	kubeconfig := cfg.Path(cfg.Kube.Kubeconfig)
	var tempKubeconfig string
	if kubeconfig == "" {
		tempKubeconfig = filepath.Join(os.TempDir(), "shipctl-"+runID+".kubeconfig")
		kubeconfig = tempKubeconfig
	}

	credEnv := terraformEnv(cfg, p.secrets)
	deps := stages.Deps{
		Config:   cfg,
		Secrets:  p.secrets,
		Template: tmpl,
		Docker:   docker.NewClient(runner),
		Terraform: terraform.NewExecutor(terraform.Options{
			Dir:      cfg.TerraformDir(),
			Binary:   cfg.Terraform.Binary,
			PlanFile: cfg.Terraform.PlanFile,
			Env:      credEnv,
			Secrets:  p.secrets.Values(),
		}),
		Kube:           newKubeClient(cfg, kubeconfig, credEnv, runner),
		TempKubeconfig: tempKubeconfig,
	}
	if plan.Includes(pipeline.StageTerraformPlan) {
		if store, err := newArchiver(p); err != nil {
			logger.Warn("plan archive disabled", "error", err)
		} else if store != nil {
			deps.Archiver = store
		}
	}

	executor := pipeline.NewExecutor(stages.New(deps),
		pipeline.WithSecrets(p.secrets),
		pipeline.WithGate(gate),
		pipeline.WithLogger(logger),
		pipeline.WithParallelImages(ro.parallelImages || cfg.Images.Parallel),
		pipeline.WithTimeout(cfg.RunTimeout()),
		pipeline.WithIDGenerator(func() string { return runID }),
	)
	return executor.Run(ctx, plan)
}

// terraformEnv returns the cloud credential environment for terraform.
func terraformEnv(cfg *config.Config, secrets config.Secrets) map[string]string {
	out := make(map[string]string)
	if v, ok := secrets.Value(pipeline.SecretAWSAccessKeyID); ok {
		out["AWS_ACCESS_KEY_ID"] = v
	}
	if v, ok := secrets.Value(pipeline.SecretAWSSecretAccessKey); ok {
		out["AWS_SECRET_ACCESS_KEY"] = v
	}
	if cfg.Terraform.Region != "" {
		out["AWS_DEFAULT_REGION"] = cfg.Terraform.Region
	}
	return out
}

// newKubeClient builds the kubectl client; EKS kubeconfigs call aws for tokens,
// so it carries the AWS credential env.
func newKubeClient(cfg *config.Config, kubeconfig string, credEnv map[string]string, runner execx.Runner) *kube.Client {
	return kube.NewClient(kubeconfig, cfg.Kube.Context, runner).WithEnv(envList(credEnv)...)
}

// envList renders env as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// newArchiver builds the plan archive store; it returns nil when no artifacts section is configured.
func newArchiver(p *project) (*artifacts.Store, error) {
	a := p.cfg.Artifacts
	if a == nil {
		return nil, nil
	}
	accessKey, _ := p.vars.Lookup(a.AccessKeyVar())
	secretKey, _ := p.vars.Lookup(a.SecretKeyVar())
	return artifacts.New(artifacts.Config{
		Endpoint:  a.Endpoint,
		Bucket:    a.Bucket,
		Region:    a.Region,
		Prefix:    a.Prefix,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    a.UseSSL,
	})
}

// saveHistory records run in the SQLite store at path.
func saveHistory(ctx context.Context, path string, run *pipeline.Run) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.Save(ctx, run); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}
