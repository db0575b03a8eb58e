package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/codex-k8s/shipctl/internal/config"
	"github.com/codex-k8s/shipctl/internal/pipeline"
)

// lookPathFunc resolves an executable in PATH.
type lookPathFunc func(name string) (string, bool)

// requiredTools lists the executables the stages of plan invoke.
func requiredTools(cfg *config.Config, plan pipeline.Plan) []string {
	kinds := plan.Kinds()
	var tools []string
	if kinds[pipeline.KindBuild] || kinds[pipeline.KindPush] {
		tools = append(tools, "docker")
	}
	if usesTerraform(plan) {
		bin := cfg.Terraform.Binary
		if bin == "" {
			bin = "terraform"
		}
		tools = append(tools, bin)
	}
	kubeStages := plan.Includes(pipeline.StageCleanupResources) ||
		plan.Includes(pipeline.StageConfigureCluster) ||
		plan.Includes(pipeline.StageVerifyMonitoring)
	if kubeStages {
		tools = append(tools, "kubectl")
		if cfg.Kube.Kubeconfig == "" || plan.Includes(pipeline.StageConfigureCluster) {
			tools = append(tools, "aws")
		}
	}
	return tools
}

// usesTerraform reports whether any stage of plan drives terraform.
func usesTerraform(plan pipeline.Plan) bool {
	kinds := plan.Kinds()
	return kinds[pipeline.KindPlan] || kinds[pipeline.KindApply] || plan.Includes(pipeline.StageDestroyInfra)
}

func runDoctorChecks(logger *slog.Logger, p *project, plan pipeline.Plan, lookPath lookPathFunc) error {
	if logger == nil {
		logger = slog.Default()
	}
	action := string(plan.Action)
	cfg := p.cfg

	var missingTools []string
	for _, tool := range requiredTools(cfg, plan) {
		if _, ok := lookPath(tool); !ok {
			logger.Error("doctor check failed: missing required tool", "tool", tool, "action", action)
			missingTools = append(missingTools, tool)
			continue
		}
		logger.Info("doctor check ok", "tool", tool, "action", action)
	}

	envKeys := make(map[string]string, len(cfg.Secrets))
	for _, s := range cfg.Secrets {
		envKeys[s.Name] = s.Env
	}
	var missingSecrets []string
	for _, name := range plan.RequiredSecrets() {
		if p.secrets.Has(name) {
			logger.Info("doctor check ok", "secret", name, "action", action)
			continue
		}
		logger.Error("doctor check failed: secret not set", "secret", name, "env", envKeys[name], "action", action)
		missingSecrets = append(missingSecrets, fmt.Sprintf("%s (%s)", name, envKeys[name]))
	}

	var dirErr error
	if usesTerraform(plan) {
		if _, err := os.Stat(cfg.TerraformDir()); err != nil {
			logger.Error("doctor check failed: terraform dir not readable", "dir", cfg.TerraformDir(), "error", err)
			dirErr = fmt.Errorf("terraform dir: %w", err)
		}
	}

	if plan.Includes(pipeline.StageCleanupResources) && len(cfg.Kube.Cleanup) == 0 {
		logger.Warn("no cleanup targets configured; cleanup-resources will do nothing", "action", action)
	}
	if plan.Includes(pipeline.StageTerraformPlan) && cfg.Artifacts != nil {
		if _, ok := p.vars.Lookup(cfg.Artifacts.AccessKeyVar()); !ok {
			logger.Warn("plan archive credentials missing; archive will be skipped", "env", cfg.Artifacts.AccessKeyVar())
		}
		if _, ok := p.vars.Lookup(cfg.Artifacts.SecretKeyVar()); !ok {
			logger.Warn("plan archive credentials missing; archive will be skipped", "env", cfg.Artifacts.SecretKeyVar())
		}
	}

	var errs []error
	if len(missingTools) > 0 {
		errs = append(errs, fmt.Errorf("required tools missing from PATH: %s", strings.Join(missingTools, ", ")))
	}
	if len(missingSecrets) > 0 {
		errs = append(errs, fmt.Errorf("secrets not set: %s", strings.Join(missingSecrets, ", ")))
	}
	if dirErr != nil {
		errs = append(errs, dirErr)
	}
	return errors.Join(errs...)
}
